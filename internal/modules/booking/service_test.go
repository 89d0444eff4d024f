// README: Booking lifecycle tests (state graph, assignment, availability, cancellation) on the in-memory stores.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"karigar/internal/events"
	"karigar/internal/modules/entity"
	"karigar/internal/types"
)

type fixture struct {
	svc       *Service
	store     *MemoryStore
	entities  *entity.MemoryStore
	dir       *entity.Service
	published *recordingPublisher
	customer  types.ID
	service   types.ID
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

type purgeRecorder struct {
	mu  sync.Mutex
	ids []types.ID
}

func (p *purgeRecorder) Purge(_ context.Context, id types.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

type stubGeocoder struct {
	point types.Point
	err   error
	calls int
}

func (g *stubGeocoder) Geocode(context.Context, string) (types.Point, error) {
	g.calls++
	return g.point, g.err
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	entities := entity.NewMemoryStore()
	dir := entity.NewService(entities, log)
	store := NewMemoryStore(entities)
	pub := &recordingPublisher{}
	f := &fixture{
		svc:       NewService(Deps{Store: store, Directory: dir, Publisher: pub, Logger: log}),
		store:     store,
		entities:  entities,
		dir:       dir,
		published: pub,
	}

	ctx := context.Background()
	reg, err := dir.Register(ctx, entity.RegisterCommand{Email: "cust@example.com", Password: "password1", Role: types.RoleCustomer, DisplayName: "Meera"})
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}
	f.customer = reg.Customer.ID
	sv, err := dir.CreateService(ctx, entity.CreateServiceCommand{Name: "Plumbing", Price: types.Money{Amount: 49900, Currency: "INR"}})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	f.service = sv.ID
	return f
}

func (f *fixture) worker(t *testing.T, email string) types.ID {
	t.Helper()
	ctx := context.Background()
	reg, err := f.dir.Register(ctx, entity.RegisterCommand{Email: email, Password: "password1", Role: types.RoleWorker, DisplayName: email})
	if err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if err := f.svc.SetPresence(ctx, reg.Worker.ID, true); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	return reg.Worker.ID
}

func (f *fixture) create(t *testing.T) *Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), CreateCommand{
		CustomerID: f.customer,
		ServiceID:  f.service,
		Address:    "12 MG Road",
		City:       "Pune",
		Location:   &types.Point{Lat: 18.52, Lng: 73.85},
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func (f *fixture) availability(t *testing.T, id types.ID) entity.Availability {
	t.Helper()
	w, err := f.entities.GetWorker(context.Background(), id)
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	return w.Availability
}

func (f *fixture) advance(t *testing.T, id types.ID, to Status) *Booking {
	t.Helper()
	b, err := f.svc.Advance(context.Background(), AdvanceCommand{BookingID: id, Target: to})
	if err != nil {
		t.Fatalf("advance to %s: %v", to, err)
	}
	return b
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusMatched, true},
		{StatusMatched, StatusAccepted, true},
		{StatusAccepted, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusPending, StatusCancelled, true},
		{StatusMatched, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, true},
		// terminal states have no outgoing edges
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCompleted, StatusInProgress, false},
		// nothing re-enters pending, nothing skips
		{StatusMatched, StatusPending, false},
		{StatusPending, StatusAccepted, false},
		{StatusPending, StatusCompleted, false},
		{StatusMatched, StatusInProgress, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestBookingHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	purges := &purgeRecorder{}
	f.svc.OnTerminal(purges)
	w := f.worker(t, "w1@example.com")

	b := f.create(t)
	if b.Status != StatusPending || b.WorkerID != nil {
		t.Fatalf("new booking = %s worker %v", b.Status, b.WorkerID)
	}
	if b.QuotedPrice.Amount != 49900 {
		t.Fatalf("quoted price not copied from catalog: %+v", b.QuotedPrice)
	}

	b, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if b.Status != StatusMatched || b.WorkerID == nil || *b.WorkerID != w {
		t.Fatalf("after assign: %+v", b)
	}
	if got := f.availability(t, w); got != entity.AvailabilityBusy {
		t.Fatalf("worker availability = %s, want busy", got)
	}

	f.advance(t, b.ID, StatusAccepted)
	f.advance(t, b.ID, StatusInProgress)
	b = f.advance(t, b.ID, StatusCompleted)
	if b.WorkerID == nil || *b.WorkerID != w {
		t.Fatal("completed booking must keep its worker")
	}
	if got := f.availability(t, w); got != entity.AvailabilityOnline {
		t.Fatalf("worker availability = %s, want online", got)
	}
	if len(purges.ids) != 1 || purges.ids[0] != b.ID {
		t.Fatalf("purgers called with %v", purges.ids)
	}

	stored, err := f.svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusCompleted || stored.CompletedAt == nil || stored.StatusVersion != 4 {
		t.Fatalf("stored booking = %+v", stored)
	}

	history, err := f.svc.History(ctx, b.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []Status{StatusPending, StatusMatched, StatusAccepted, StatusInProgress, StatusCompleted}
	if len(history) != len(want) {
		t.Fatalf("history has %d events, want %d", len(history), len(want))
	}
	for i, e := range history {
		if e.ToStatus != want[i] {
			t.Fatalf("event %d to=%s, want %s", i, e.ToStatus, want[i])
		}
	}
	if history[0].FromStatus != StatusNone {
		t.Fatalf("first event from=%s", history[0].FromStatus)
	}

	topics := f.published.topics()
	if len(topics) != 5 || topics[0] != events.TopicBookingCreated || topics[4] != events.TopicStatusChanged {
		t.Fatalf("published topics = %v", topics)
	}
}

func TestCreateRejectsUnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []CreateCommand{
		{CustomerID: "missing", ServiceID: f.service, Address: "x"},
		{CustomerID: f.customer, ServiceID: "missing", Address: "x"},
		{CustomerID: f.customer, ServiceID: f.service, Address: "  "},
		{CustomerID: f.customer, ServiceID: f.service, Address: "x", Location: &types.Point{Lat: 91}},
	}
	for i, cmd := range cases {
		if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("case %d: expected InvalidInput, got %v", i, err)
		}
	}
}

func TestCreateGeocodesAddress(t *testing.T) {
	f := newFixture(t)
	geo := &stubGeocoder{point: types.Point{Lat: 19.07, Lng: 72.87}}
	f.svc.geocoder = geo
	ctx := context.Background()

	b, err := f.svc.Create(ctx, CreateCommand{CustomerID: f.customer, ServiceID: f.service, Address: "Bandra West", City: "Mumbai"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Location == nil || *b.Location != geo.point {
		t.Fatalf("location = %v, want %v", b.Location, geo.point)
	}

	geo.err = errors.New("quota exceeded")
	b, err = f.svc.Create(ctx, CreateCommand{CustomerID: f.customer, ServiceID: f.service, Address: "Nowhere"})
	if err != nil {
		t.Fatalf("geocoder failure must not fail creation: %v", err)
	}
	if b.Location != nil {
		t.Fatalf("expected no coordinates, got %v", b.Location)
	}
}

func TestAssignErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.worker(t, "w1@example.com")
	w2 := f.worker(t, "w2@example.com")

	first := f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: first.ID, WorkerID: w1}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	second := f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: second.ID, WorkerID: w1}); !errors.Is(err, types.ErrWorkerUnavailable) {
		t.Fatalf("busy worker: expected WorkerUnavailable, got %v", err)
	}
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: second.ID, WorkerID: "ghost"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("unknown worker: expected InvalidInput, got %v", err)
	}
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: first.ID, WorkerID: w2}); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("reassign matched: expected InvalidTransition, got %v", err)
	}
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: "nope", WorkerID: w2}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("unknown booking: expected NotFound, got %v", err)
	}

	b, err := f.svc.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != StatusPending || b.WorkerID != nil {
		t.Fatalf("failed assignment changed the booking: %+v", b)
	}
	if got := f.availability(t, w2); got != entity.AvailabilityOnline {
		t.Fatalf("w2 availability = %s", got)
	}
}

func TestAdvanceRejectsInvalidEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)

	for _, to := range []Status{StatusAccepted, StatusInProgress, StatusCompleted, StatusMatched, StatusPending} {
		if _, err := f.svc.Advance(ctx, AdvanceCommand{BookingID: b.ID, Target: to}); !errors.Is(err, types.ErrInvalidTransition) {
			t.Errorf("pending -> %s: expected InvalidTransition, got %v", to, err)
		}
	}
	if _, err := f.svc.Advance(ctx, AdvanceCommand{BookingID: b.ID, Target: "teleported"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("unknown status: expected InvalidInput, got %v", err)
	}

	if _, err := f.svc.Cancel(ctx, CancelCommand{BookingID: b.ID, Reason: "changed my mind"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, to := range []Status{StatusCancelled, StatusCompleted, StatusMatched} {
		if _, err := f.svc.Advance(ctx, AdvanceCommand{BookingID: b.ID, Target: to}); !errors.Is(err, types.ErrInvalidTransition) {
			t.Errorf("cancelled -> %s: expected InvalidTransition, got %v", to, err)
		}
	}
}

func TestCancelReleasesWorker(t *testing.T) {
	for _, stage := range []Status{StatusMatched, StatusAccepted, StatusInProgress} {
		t.Run(string(stage), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			purges := &purgeRecorder{}
			f.svc.OnTerminal(purges)
			w := f.worker(t, "w@example.com")
			b := f.create(t)
			if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w}); err != nil {
				t.Fatalf("assign: %v", err)
			}
			path := []Status{StatusAccepted, StatusInProgress}
			for _, s := range path {
				if stage == StatusMatched || (stage == StatusAccepted && s == StatusInProgress) {
					break
				}
				f.advance(t, b.ID, s)
			}

			got, err := f.svc.Cancel(ctx, CancelCommand{BookingID: b.ID, Reason: "no show", Actor: types.Actor{ID: f.customer, Role: types.RoleCustomer}})
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if got.Status != StatusCancelled || got.WorkerID != nil {
				t.Fatalf("cancelled booking = %+v", got)
			}
			if got.CancelReason == nil || *got.CancelReason != "no show" {
				t.Fatalf("cancel reason = %v", got.CancelReason)
			}
			if a := f.availability(t, w); a != entity.AvailabilityOnline {
				t.Fatalf("worker availability = %s, want online", a)
			}
			if len(purges.ids) != 1 {
				t.Fatalf("purgers called %d times", len(purges.ids))
			}

			history, err := f.svc.History(ctx, b.ID)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			last := history[len(history)-1]
			if last.ToStatus != StatusCancelled || last.WorkerID == nil || *last.WorkerID != w || last.ActorType != types.RoleCustomer {
				t.Fatalf("cancel event = %+v", last)
			}
			if last.Reason == nil || *last.Reason != "no show" {
				t.Fatalf("cancel event reason = %v", last.Reason)
			}
		})
	}
}

func TestWorkerCanTakeNextBookingAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.worker(t, "w@example.com")

	first := f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: first.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign first: %v", err)
	}
	f.advance(t, first.ID, StatusAccepted)
	f.advance(t, first.ID, StatusInProgress)
	f.advance(t, first.ID, StatusCompleted)

	second := f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: second.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign second: %v", err)
	}
}

func TestUpdateOnlyBeforeAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	geo := &stubGeocoder{point: types.Point{Lat: 18.6, Lng: 73.9}}
	f.svc.geocoder = geo
	w := f.worker(t, "w@example.com")
	b := f.create(t)

	addr := "44 FC Road"
	got, err := f.svc.Update(ctx, UpdateCommand{BookingID: b.ID, Patch: Patch{Address: &addr}})
	if err != nil {
		t.Fatalf("update pending: %v", err)
	}
	if got.Address != addr || got.Location == nil || *got.Location != geo.point {
		t.Fatalf("update did not re-geocode: %+v", got)
	}

	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err = f.svc.Update(ctx, UpdateCommand{BookingID: b.ID, Patch: Patch{ScheduledAt: &at}})
	if err != nil {
		t.Fatalf("update matched: %v", err)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) || got.Status != StatusMatched {
		t.Fatalf("schedule not applied: %+v", got)
	}

	f.advance(t, b.ID, StatusAccepted)
	if _, err := f.svc.Update(ctx, UpdateCommand{BookingID: b.ID, Patch: Patch{Address: &addr}}); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("update accepted: expected InvalidTransition, got %v", err)
	}

	empty := " "
	if _, err := f.svc.Update(ctx, UpdateCommand{BookingID: b.ID, Patch: Patch{Address: &empty}}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("empty address: expected InvalidInput, got %v", err)
	}
}

func TestSetPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.worker(t, "w@example.com")

	if err := f.svc.SetPresence(ctx, w, false); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if a := f.availability(t, w); a != entity.AvailabilityOffline {
		t.Fatalf("availability = %s", a)
	}

	// Offline workers may still be assigned explicitly.
	b := f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign offline worker: %v", err)
	}
	if err := f.svc.SetPresence(ctx, w, false); !errors.Is(err, types.ErrWorkerUnavailable) {
		t.Fatalf("presence while busy: expected WorkerUnavailable, got %v", err)
	}
	if err := f.svc.SetPresence(ctx, "ghost", true); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("unknown worker: expected NotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.worker(t, "w@example.com")

	a := f.create(t)
	f.create(t)
	f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: a.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	all, err := f.svc.List(ctx, Filter{CustomerID: f.customer})
	if err != nil || len(all) != 3 {
		t.Fatalf("list all = %d, %v", len(all), err)
	}
	unassigned, err := f.svc.List(ctx, Filter{Unassigned: true})
	if err != nil || len(unassigned) != 2 {
		t.Fatalf("list unassigned = %d, %v", len(unassigned), err)
	}
	mine, err := f.svc.List(ctx, Filter{WorkerID: w})
	if err != nil || len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("list by worker = %v, %v", mine, err)
	}
	matched, err := f.svc.List(ctx, Filter{Status: StatusMatched})
	if err != nil || len(matched) != 1 {
		t.Fatalf("list matched = %d, %v", len(matched), err)
	}
	limited, err := f.svc.List(ctx, Filter{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("list limit = %d, %v", len(limited), err)
	}
	if _, err := f.svc.List(ctx, Filter{Status: "bogus"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("bad status filter: expected InvalidInput, got %v", err)
	}
}

type fixedSelector struct {
	id  types.ID
	err error
}

func (s fixedSelector) SelectWorker(context.Context, *Booking) (types.ID, error) {
	return s.id, s.err
}

func TestAutoAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)

	if _, err := f.svc.AutoAssign(ctx, b.ID, types.SystemActor); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("no selector: expected InvalidInput, got %v", err)
	}

	w := f.worker(t, "w@example.com")
	f.svc.SetSelector(fixedSelector{id: w})
	got, err := f.svc.AutoAssign(ctx, b.ID, types.SystemActor)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if got.WorkerID == nil || *got.WorkerID != w {
		t.Fatalf("auto assign picked %v", got.WorkerID)
	}

	other := f.create(t)
	f.svc.SetSelector(fixedSelector{err: types.ErrWorkerUnavailable})
	if _, err := f.svc.AutoAssign(ctx, other.ID, types.SystemActor); !errors.Is(err, types.ErrWorkerUnavailable) {
		t.Fatalf("empty pool: expected WorkerUnavailable, got %v", err)
	}
}

func TestConcurrentAssignSameBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.worker(t, "w1@example.com")
	w2 := f.worker(t, "w2@example.com")
	b := f.create(t)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, w := range []types.ID{w1, w2} {
		wg.Add(1)
		go func(w types.ID) {
			defer wg.Done()
			_, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w})
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, types.ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful assignment, got %d", success)
	}

	got, err := f.svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	winner := *got.WorkerID
	loser := w1
	if winner == w1 {
		loser = w2
	}
	if a := f.availability(t, winner); a != entity.AvailabilityBusy {
		t.Fatalf("winner availability = %s", a)
	}
	if a := f.availability(t, loser); a != entity.AvailabilityOnline {
		t.Fatalf("loser availability = %s", a)
	}
}

func TestConcurrentAssignSameWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.worker(t, "w@example.com")

	const n = 8
	ids := make([]types.ID, n)
	for i := range ids {
		ids[i] = f.create(t).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: id, WorkerID: w})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, types.ErrWorkerUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("worker assigned to %d bookings", success)
	}
}

func TestConcurrentAdvanceVsCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.worker(t, "w@example.com")
	b := f.create(t)
	if _, err := f.svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.svc.Advance(ctx, AdvanceCommand{BookingID: b.ID, Target: StatusAccepted})
	}()
	go func() {
		defer wg.Done()
		_, _ = f.svc.Cancel(ctx, CancelCommand{BookingID: b.ID, Reason: "race"})
	}()
	wg.Wait()

	got, err := f.svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled {
		// cancel is legal from both matched and accepted
		t.Fatalf("final status = %s, want cancelled", got.Status)
	}
	if got.WorkerID != nil {
		t.Fatal("cancelled booking kept its worker")
	}
	if a := f.availability(t, w); a != entity.AvailabilityOnline {
		t.Fatalf("worker availability = %s", a)
	}
	if f.svc.locks.size() != 0 {
		t.Fatalf("lock table not drained: %d", f.svc.locks.size())
	}
}
