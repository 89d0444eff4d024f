// README: Route/ETA estimator with a per-booking cache, bounded provider calls and stale fallback.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"karigar/internal/maps"
	"karigar/internal/modules/booking"
	"karigar/internal/modules/location"
	"karigar/internal/types"
)

type BookingReader interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

type FixReader interface {
	Latest(ctx context.Context, bookingID types.ID) (location.Latest, error)
}

// Provider computes a driving route; implemented by maps.RouteService.
type Provider interface {
	Route(ctx context.Context, origin, destination types.Point) (maps.Route, error)
}

type Service struct {
	bookings BookingReader
	fixes    FixReader
	provider Provider
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[types.ID]*Estimate
	// inflight marks bookings with a provider call under way; true once the
	// booking was purged during the call.
	inflight map[types.ID]bool
	group    singleflight.Group
}

func NewService(bookings BookingReader, fixes FixReader, provider Provider, cfg Config, log *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.ReuseWithinMeters <= 0 {
		cfg.ReuseWithinMeters = def.ReuseWithinMeters
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		bookings: bookings,
		fixes:    fixes,
		provider: provider,
		cfg:      cfg,
		log:      log.With("module", "route"),
		now:      func() time.Time { return time.Now().UTC() },
		cache:    make(map[types.ID]*Estimate),
		inflight: make(map[types.ID]bool),
	}
}

// Estimate returns the route from the worker's latest fix to the job.
func (s *Service) Estimate(ctx context.Context, bookingID types.ID) (*Estimate, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Location == nil {
		return nil, fmt.Errorf("route: booking %s has no coordinates: %w", b.ID, types.ErrInsufficientData)
	}
	latest, err := s.fixes.Latest(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if latest.Worker == nil {
		return nil, fmt.Errorf("route: no worker fix for booking %s: %w", b.ID, types.ErrInsufficientData)
	}
	fix, dest := *latest.Worker, *b.Location

	if e, ok := s.fresh(b.ID, fix, dest); ok {
		return e, nil
	}
	v, err, _ := s.group.Do(string(b.ID), func() (any, error) {
		if e, ok := s.fresh(b.ID, fix, dest); ok {
			return e, nil
		}
		return s.compute(ctx, b.ID, fix, dest)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Estimate).clone(), nil
}

func (s *Service) fresh(id types.ID, fix location.Fix, dest types.Point) (*Estimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[id]
	if !ok || e.Destination != dest {
		return nil, false
	}
	if s.now().Sub(e.ComputedAt) >= s.cfg.TTL {
		return nil, false
	}
	if types.DistanceMeters(e.BasedOnFix.Point, fix.Point) > s.cfg.ReuseWithinMeters {
		return nil, false
	}
	return e.clone(), true
}

func (s *Service) compute(ctx context.Context, id types.ID, fix location.Fix, dest types.Point) (*Estimate, error) {
	// Shared by every waiter; detached from the first caller's cancellation.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProviderTimeout)
	defer cancel()

	s.mu.Lock()
	s.inflight[id] = false
	s.mu.Unlock()

	r, err := s.provider.Route(callCtx, fix.Point, dest)

	s.mu.Lock()
	defer s.mu.Unlock()
	purged := s.inflight[id]
	delete(s.inflight, id)

	if err != nil {
		// A stale route to an old destination is worse than none.
		if cached, ok := s.cache[id]; ok && cached.Destination == dest {
			s.log.WarnContext(ctx, "routing provider failed; serving stale estimate", "booking_id", id, "err", err)
			stale := cached.clone()
			stale.Stale = true
			return stale, nil
		}
		s.log.WarnContext(ctx, "routing provider failed", "booking_id", id, "err", err)
		return nil, fmt.Errorf("route: provider: %v: %w", err, types.ErrProviderUnavailable)
	}

	e := &Estimate{
		Points:         r.Polyline,
		DistanceMeters: r.DistanceMeters,
		EtaSeconds:     r.DurationSeconds,
		ComputedAt:     s.now(),
		BasedOnFix:     fix,
		Destination:    dest,
	}
	if !purged {
		s.cache[id] = e
	}
	return e.clone(), nil
}

// Purge forgets the cached estimate of a booking.
func (s *Service) Purge(_ context.Context, bookingID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, bookingID)
	if _, ok := s.inflight[bookingID]; ok {
		s.inflight[bookingID] = true
	}
	return nil
}

func (s *Service) cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
