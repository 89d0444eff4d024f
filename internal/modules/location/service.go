// README: Location tracking service ingests device fixes for active bookings and serves latest/history reads.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"karigar/internal/events"
	"karigar/internal/modules/booking"
	"karigar/internal/types"
)

type BookingReader interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

// WorkerRecorder persists the worker profile's last known position.
type WorkerRecorder interface {
	RecordWorkerLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
}

// PositionIndex is the geo index used for nearest-worker selection.
type PositionIndex interface {
	UpdateWorker(ctx context.Context, id types.ID, p types.Point) error
}

type Config struct {
	HistoryLimit int
	// MaxClockSkew rejects fixes stamped further than this in the future.
	MaxClockSkew time.Duration
}

type Service struct {
	store     Store
	bookings  BookingReader
	workers   WorkerRecorder
	index     PositionIndex
	publisher events.Publisher
	purgers   []booking.Purger
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

func NewService(store Store, bookings BookingReader, cfg Config, log *slog.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("module", "location")
	return &Service{
		store:     store,
		bookings:  bookings,
		publisher: events.NewLogPublisher(log),
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithWorkerSync mirrors worker fixes into the worker profile and the geo index.
func (s *Service) WithWorkerSync(workers WorkerRecorder, index PositionIndex) *Service {
	s.workers = workers
	s.index = index
	return s
}

func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.publisher = p
	return s
}

// OnSweep registers extra per-booking state dropped together with stale tracks.
func (s *Service) OnSweep(p ...booking.Purger) {
	s.purgers = append(s.purgers, p...)
}

type ReportCommand struct {
	BookingID  types.ID
	Party      Party
	Point      types.Point
	Accuracy   float64
	RecordedAt time.Time
}

// ReportFix stores a fix for an active booking. It reports false without an
// error when the booking is already terminal and the fix was dropped.
func (s *Service) ReportFix(ctx context.Context, cmd ReportCommand) (bool, error) {
	if !cmd.Party.Valid() {
		return false, fmt.Errorf("location: unknown party %q: %w", cmd.Party, types.ErrInvalidInput)
	}
	if !cmd.Point.Valid() {
		return false, fmt.Errorf("location: coordinates out of range: %w", types.ErrInvalidInput)
	}
	if cmd.Accuracy < 0 {
		return false, fmt.Errorf("location: negative accuracy: %w", types.ErrInvalidInput)
	}
	now := s.now()
	if cmd.RecordedAt.IsZero() {
		cmd.RecordedAt = now
	}
	if cmd.RecordedAt.After(now.Add(s.cfg.MaxClockSkew)) {
		return false, fmt.Errorf("location: fix timestamp is in the future: %w", types.ErrInvalidInput)
	}

	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return false, err
	}
	if b.Status.Terminal() {
		s.log.InfoContext(ctx, "dropping fix for terminal booking", "booking_id", b.ID, "status", b.Status, "party", cmd.Party)
		return false, nil
	}
	if !b.Status.Tracking() {
		return false, fmt.Errorf("location: booking %s is %s: %w", b.ID, b.Status, types.ErrInvalidTransition)
	}

	f := Fix{Point: cmd.Point, Accuracy: cmd.Accuracy, RecordedAt: cmd.RecordedAt.UTC(), Party: cmd.Party}
	if err := s.store.Append(ctx, b.ID, f, s.cfg.HistoryLimit); err != nil {
		return false, err
	}
	// A completion may have committed and purged between the read and the
	// append; the re-read sees it or its purge runs after the append.
	if closed, err := s.closedSince(ctx, b.ID); err != nil || closed {
		if perr := s.store.Purge(ctx, b.ID); perr != nil {
			s.log.WarnContext(ctx, "purge after late fix failed", "booking_id", b.ID, "err", perr)
		}
		if err != nil {
			return false, err
		}
		s.log.InfoContext(ctx, "dropping fix for booking closed mid-report", "booking_id", b.ID, "party", cmd.Party)
		return false, nil
	}

	if f.Party == PartyWorker && b.WorkerID != nil {
		s.syncWorker(ctx, *b.WorkerID, f)
	}
	err = s.publisher.Publish(ctx, events.Event{
		Topic:     events.TopicLocation,
		BookingID: b.ID,
		At:        f.RecordedAt,
		Data:      f,
	})
	if err != nil {
		s.log.WarnContext(ctx, "publish location failed", "booking_id", b.ID, "err", err)
	}
	return true, nil
}

func (s *Service) closedSince(ctx context.Context, id types.ID) (bool, error) {
	b, err := s.bookings.Get(ctx, id)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	}
	return b.Status.Terminal(), nil
}

func (s *Service) syncWorker(ctx context.Context, workerID types.ID, f Fix) {
	if s.workers != nil {
		if err := s.workers.RecordWorkerLocation(ctx, workerID, f.Point, f.RecordedAt); err != nil {
			s.log.WarnContext(ctx, "record worker location failed", "worker_id", workerID, "err", err)
		}
	}
	if s.index != nil {
		if err := s.index.UpdateWorker(ctx, workerID, f.Point); err != nil {
			s.log.WarnContext(ctx, "update worker geo index failed", "worker_id", workerID, "err", err)
		}
	}
}

func (s *Service) Latest(ctx context.Context, bookingID types.ID) (Latest, error) {
	if _, err := s.bookings.Get(ctx, bookingID); err != nil {
		return Latest{}, err
	}
	return s.store.Latest(ctx, bookingID)
}

// History returns the retained fixes of one party, or of both parties
// concatenated (worker first) when party is empty.
func (s *Service) History(ctx context.Context, bookingID types.ID, party Party) ([]Fix, error) {
	if party != "" && !party.Valid() {
		return nil, fmt.Errorf("location: unknown party %q: %w", party, types.ErrInvalidInput)
	}
	if _, err := s.bookings.Get(ctx, bookingID); err != nil {
		return nil, err
	}
	if party != "" {
		return s.store.History(ctx, bookingID, party)
	}
	w, err := s.store.History(ctx, bookingID, PartyWorker)
	if err != nil {
		return nil, err
	}
	c, err := s.store.History(ctx, bookingID, PartyCustomer)
	if err != nil {
		return nil, err
	}
	return append(w, c...), nil
}

// Purge drops every fix held for the booking.
func (s *Service) Purge(ctx context.Context, bookingID types.ID) error {
	return s.store.Purge(ctx, bookingID)
}

// Sweep purges tracks whose booking is terminal or gone and returns how many
// were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.Tracked(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, id := range ids {
		b, err := s.bookings.Get(ctx, id)
		switch {
		case errors.Is(err, types.ErrNotFound):
		case err != nil:
			s.log.WarnContext(ctx, "sweep: load booking failed", "booking_id", id, "err", err)
			continue
		case !b.Status.Terminal():
			continue
		}
		if err := s.store.Purge(ctx, id); err != nil {
			s.log.WarnContext(ctx, "sweep: purge failed", "booking_id", id, "err", err)
			continue
		}
		for _, p := range s.purgers {
			if err := p.Purge(ctx, id); err != nil {
				s.log.WarnContext(ctx, "sweep: purge failed", "booking_id", id, "err", err)
			}
		}
		purged++
	}
	if purged > 0 {
		s.log.InfoContext(ctx, "sweep purged stale tracks", "count", purged)
	}
	return purged, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.WarnContext(ctx, "sweep failed", "err", err)
			}
		}
	}
}
