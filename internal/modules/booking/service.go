// README: Booking lifecycle manager; the single chokepoint for status transitions, worker assignment and worker availability.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"karigar/internal/events"
	"karigar/internal/modules/entity"
	"karigar/internal/types"
)

// Directory resolves the entities a booking refers to.
type Directory interface {
	GetCustomer(ctx context.Context, id types.ID) (*entity.Customer, error)
	GetService(ctx context.Context, id types.ID) (*entity.CatalogEntry, error)
	GetWorker(ctx context.Context, id types.ID) (*entity.Worker, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// WorkerSelector picks a worker for a pending booking.
type WorkerSelector interface {
	SelectWorker(ctx context.Context, b *Booking) (types.ID, error)
}

// Purger drops per-booking state once the booking is terminal.
type Purger interface {
	Purge(ctx context.Context, bookingID types.ID) error
}

type Deps struct {
	Store     Store
	Directory Directory
	Geocoder  Geocoder
	Selector  WorkerSelector
	Publisher events.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	store     Store
	dir       Directory
	geocoder  Geocoder
	selector  WorkerSelector
	publisher events.Publisher
	purgers   []Purger
	locks     *keyedMutex
	log       *slog.Logger
	now       func() time.Time
}

func NewService(deps Deps) *Service {
	s := &Service{
		store:     deps.Store,
		dir:       deps.Directory,
		geocoder:  deps.Geocoder,
		selector:  deps.Selector,
		publisher: deps.Publisher,
		locks:     newKeyedMutex(),
		log:       deps.Logger,
		now:       deps.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("module", "booking")
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.log)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// OnTerminal registers purgers run after a booking completes or is cancelled.
func (s *Service) OnTerminal(p ...Purger) {
	s.purgers = append(s.purgers, p...)
}

// SetSelector installs the worker selection policy used by AutoAssign.
func (s *Service) SetSelector(sel WorkerSelector) {
	s.selector = sel
}

type CreateCommand struct {
	CustomerID  types.ID
	ServiceID   types.ID
	ScheduledAt *time.Time
	Address     string
	City        string
	Location    *types.Point
	Actor       types.Actor
}

type AssignCommand struct {
	BookingID types.ID
	WorkerID  types.ID
	Actor     types.Actor
}

type AdvanceCommand struct {
	BookingID types.ID
	Target    Status
	Reason    string
	Actor     types.Actor
}

type CancelCommand struct {
	BookingID types.ID
	Reason    string
	Actor     types.Actor
}

// Patch lists the mutable booking fields; nil leaves a field unchanged.
type Patch struct {
	Address       *string
	City          *string
	Location      *types.Point
	ScheduledAt   *time.Time
	ClearSchedule bool
}

type UpdateCommand struct {
	BookingID types.ID
	Patch     Patch
	Actor     types.Actor
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if cmd.CustomerID == "" || cmd.ServiceID == "" {
		return nil, fmt.Errorf("booking: customer_id and service_id are required: %w", types.ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.Address) == "" {
		return nil, fmt.Errorf("booking: address is required: %w", types.ErrInvalidInput)
	}
	if cmd.Location != nil && !cmd.Location.Valid() {
		return nil, fmt.Errorf("booking: coordinates out of range: %w", types.ErrInvalidInput)
	}
	if _, err := s.dir.GetCustomer(ctx, cmd.CustomerID); err != nil {
		return nil, asInvalidInput("customer", cmd.CustomerID, err)
	}
	svc, err := s.dir.GetService(ctx, cmd.ServiceID)
	if err != nil {
		return nil, asInvalidInput("service", cmd.ServiceID, err)
	}

	now := s.now()
	b := &Booking{
		ID:            types.NewID(),
		ServiceID:     cmd.ServiceID,
		CustomerID:    cmd.CustomerID,
		Status:        StatusPending,
		StatusVersion: 0,
		ScheduledAt:   cmd.ScheduledAt,
		Address:       strings.TrimSpace(cmd.Address),
		City:          cmd.City,
		Location:      cmd.Location,
		QuotedPrice:   svc.Price,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if b.Location == nil {
		b.Location = s.geocode(ctx, b.Address, b.City)
	}
	err = s.store.Create(ctx, b, &Event{
		BookingID:  b.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  actorType(cmd.Actor, types.RoleCustomer),
		ActorID:    cmd.Actor.IDPtr(),
		CreatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "booking created", "booking_id", b.ID, "customer_id", b.CustomerID, "service_id", b.ServiceID)
	s.publish(ctx, events.TopicBookingCreated, b, nil)
	return b, nil
}

func (s *Service) AssignWorker(ctx context.Context, cmd AssignCommand) (*Booking, error) {
	if cmd.BookingID == "" || cmd.WorkerID == "" {
		return nil, fmt.Errorf("booking: booking_id and worker_id are required: %w", types.ErrInvalidInput)
	}
	unlock := s.locks.Lock(bookingKey(cmd.BookingID))
	defer unlock()

	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, StatusMatched) {
		return nil, fmt.Errorf("booking: cannot assign a worker to a %s booking: %w", b.Status, types.ErrInvalidTransition)
	}
	w, err := s.dir.GetWorker(ctx, cmd.WorkerID)
	if err != nil {
		return nil, asInvalidInput("worker", cmd.WorkerID, err)
	}
	if w.Availability == entity.AvailabilityBusy {
		return nil, fmt.Errorf("booking: worker %s is busy: %w", w.ID, types.ErrWorkerUnavailable)
	}

	unlockWorker := s.locks.Lock(workerKey(cmd.WorkerID))
	defer unlockWorker()

	now := s.now()
	workerID := cmd.WorkerID
	err = s.store.Assign(ctx, AssignParams{
		BookingID: b.ID,
		WorkerID:  workerID,
		Version:   b.StatusVersion,
		At:        now,
		Event: &Event{
			BookingID:  b.ID,
			FromStatus: b.Status,
			ToStatus:   StatusMatched,
			ActorType:  actorType(cmd.Actor, types.RoleSystem),
			ActorID:    cmd.Actor.IDPtr(),
			WorkerID:   &workerID,
			CreatedAt:  now,
		},
	})
	if err != nil {
		return nil, err
	}

	from := b.Status
	b.Status = StatusMatched
	b.WorkerID = &workerID
	b.StatusVersion++
	b.MatchedAt = &now
	b.UpdatedAt = now
	s.log.InfoContext(ctx, "worker assigned", "booking_id", b.ID, "worker_id", workerID)
	s.publish(ctx, events.TopicStatusChanged, b, map[string]any{"from": from, "to": b.Status, "worker_id": workerID})
	return b, nil
}

// AutoAssign lets the configured selector choose the worker.
func (s *Service) AutoAssign(ctx context.Context, bookingID types.ID, actor types.Actor) (*Booking, error) {
	if s.selector == nil {
		return nil, fmt.Errorf("booking: no worker selection policy configured: %w", types.ErrInvalidInput)
	}
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPending {
		return nil, fmt.Errorf("booking: cannot assign a worker to a %s booking: %w", b.Status, types.ErrInvalidTransition)
	}
	workerID, err := s.selector.SelectWorker(ctx, b)
	if err != nil {
		return nil, err
	}
	return s.AssignWorker(ctx, AssignCommand{BookingID: bookingID, WorkerID: workerID, Actor: actor})
}

func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Booking, error) {
	if !cmd.Target.Valid() {
		return nil, fmt.Errorf("booking: unknown status %q: %w", cmd.Target, types.ErrInvalidInput)
	}
	unlock := s.locks.Lock(bookingKey(cmd.BookingID))
	defer unlock()

	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	from := b.Status
	if !CanTransition(from, cmd.Target) {
		return nil, fmt.Errorf("booking: %s -> %s: %w", from, cmd.Target, types.ErrInvalidTransition)
	}
	if cmd.Target == StatusMatched {
		return nil, fmt.Errorf("booking: matched is reached only by assigning a worker: %w", types.ErrInvalidTransition)
	}
	if cmd.Target.HasWorker() && b.WorkerID == nil {
		return nil, fmt.Errorf("booking: %s requires an assigned worker: %w", cmd.Target, types.ErrInvalidTransition)
	}

	now := s.now()
	params := TransitionParams{
		BookingID: b.ID,
		From:      from,
		To:        cmd.Target,
		Version:   b.StatusVersion,
		At:        now,
		Event: &Event{
			BookingID:  b.ID,
			FromStatus: from,
			ToStatus:   cmd.Target,
			ActorType:  actorType(cmd.Actor, types.RoleSystem),
			ActorID:    cmd.Actor.IDPtr(),
			WorkerID:   b.WorkerID,
			CreatedAt:  now,
		},
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		params.Reason = &reason
		params.Event.Reason = &reason
	}
	releasedWorker := b.WorkerID
	if cmd.Target.Terminal() && releasedWorker != nil {
		params.ReleaseWorker = releasedWorker
		unlockWorker := s.locks.Lock(workerKey(*releasedWorker))
		defer unlockWorker()
	}
	// A cancelled booking keeps no worker; the audit event still names it.
	if cmd.Target == StatusCancelled {
		params.ClearWorker = true
	}

	if err := s.store.Transition(ctx, params); err != nil {
		return nil, err
	}

	b.Status = cmd.Target
	b.StatusVersion++
	b.UpdatedAt = now
	if params.ClearWorker {
		b.WorkerID = nil
	}
	if params.Reason != nil {
		b.CancelReason = params.Reason
	}
	switch cmd.Target {
	case StatusAccepted:
		b.AcceptedAt = &now
	case StatusInProgress:
		b.StartedAt = &now
	case StatusCompleted:
		b.CompletedAt = &now
	case StatusCancelled:
		b.CancelledAt = &now
	}

	s.log.InfoContext(ctx, "booking advanced", "booking_id", b.ID, "from", from, "to", b.Status)
	if b.Status.Terminal() {
		s.purge(ctx, b.ID)
	}
	data := map[string]any{"from": from, "to": b.Status}
	if releasedWorker != nil {
		data["worker_id"] = *releasedWorker
	}
	if params.Reason != nil {
		data["reason"] = *params.Reason
	}
	s.publish(ctx, events.TopicStatusChanged, b, data)
	return b, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	return s.Advance(ctx, AdvanceCommand{
		BookingID: cmd.BookingID,
		Target:    StatusCancelled,
		Reason:    cmd.Reason,
		Actor:     cmd.Actor,
	})
}

func (s *Service) Update(ctx context.Context, cmd UpdateCommand) (*Booking, error) {
	p := cmd.Patch
	if p.Address != nil && strings.TrimSpace(*p.Address) == "" {
		return nil, fmt.Errorf("booking: address must not be empty: %w", types.ErrInvalidInput)
	}
	if p.Location != nil && !p.Location.Valid() {
		return nil, fmt.Errorf("booking: coordinates out of range: %w", types.ErrInvalidInput)
	}

	unlock := s.locks.Lock(bookingKey(cmd.BookingID))
	defer unlock()

	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.Editable() {
		return nil, fmt.Errorf("booking: address and schedule are fixed once %s: %w", b.Status, types.ErrInvalidTransition)
	}

	d := Details{Address: b.Address, City: b.City, Location: b.Location, ScheduledAt: b.ScheduledAt}
	addressChanged := false
	if p.Address != nil && strings.TrimSpace(*p.Address) != d.Address {
		d.Address = strings.TrimSpace(*p.Address)
		addressChanged = true
	}
	if p.City != nil && *p.City != d.City {
		d.City = *p.City
		addressChanged = true
	}
	switch {
	case p.Location != nil:
		d.Location = p.Location
	case addressChanged:
		d.Location = s.geocode(ctx, d.Address, d.City)
	}
	if p.ClearSchedule {
		d.ScheduledAt = nil
	} else if p.ScheduledAt != nil {
		d.ScheduledAt = p.ScheduledAt
	}

	now := s.now()
	if err := s.store.UpdateDetails(ctx, b.ID, b.StatusVersion, d, now); err != nil {
		return nil, err
	}
	b.Address, b.City, b.Location, b.ScheduledAt = d.Address, d.City, d.Location, d.ScheduledAt
	b.StatusVersion++
	b.UpdatedAt = now
	s.publish(ctx, events.TopicBookingUpdated, b, nil)
	return b, nil
}

// SetPresence toggles an idle worker between online and offline.
func (s *Service) SetPresence(ctx context.Context, workerID types.ID, online bool) error {
	unlock := s.locks.Lock(workerKey(workerID))
	defer unlock()
	a := entity.AvailabilityOffline
	if online {
		a = entity.AvailabilityOnline
	}
	if err := s.store.SetWorkerPresence(ctx, workerID, a); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "worker presence changed", "worker_id", workerID, "availability", a)
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Booking, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("booking: unknown status %q: %w", f.Status, types.ErrInvalidInput)
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("booking: negative limit: %w", types.ErrInvalidInput)
	}
	return s.store.List(ctx, f)
}

// History returns the status transitions of a booking, oldest first.
func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

func (s *Service) purge(ctx context.Context, id types.ID) {
	for _, p := range s.purgers {
		if err := p.Purge(ctx, id); err != nil {
			s.log.WarnContext(ctx, "purge after terminal status failed", "booking_id", id, "err", err)
		}
	}
}

func (s *Service) geocode(ctx context.Context, address, city string) *types.Point {
	if s.geocoder == nil {
		return nil
	}
	query := address
	if city != "" {
		query += ", " + city
	}
	p, err := s.geocoder.Geocode(ctx, query)
	if err != nil {
		s.log.WarnContext(ctx, "geocoding failed; booking stored without coordinates", "err", err)
		return nil
	}
	return &p
}

func (s *Service) publish(ctx context.Context, topic string, b *Booking, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = b.Status
	err := s.publisher.Publish(ctx, events.Event{Topic: topic, BookingID: b.ID, At: b.UpdatedAt, Data: data})
	if err != nil {
		s.log.WarnContext(ctx, "publish event failed", "topic", topic, "booking_id", b.ID, "err", err)
	}
}

func asInvalidInput(kind string, id types.ID, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("booking: %s %s does not exist: %w", kind, id, types.ErrInvalidInput)
	}
	return err
}

func actorType(a types.Actor, def types.Role) types.Role {
	if a.Role != "" {
		return a.Role
	}
	return def
}

func bookingKey(id types.ID) string { return "booking:" + string(id) }
func workerKey(id types.ID) string  { return "worker:" + string(id) }
