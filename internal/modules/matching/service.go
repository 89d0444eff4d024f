// README: Worker selection policies plugged into booking auto-assignment.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"karigar/internal/modules/booking"
	"karigar/internal/modules/entity"
	"karigar/internal/types"
)

// Manual is the default policy: an operator or caller names the worker.
type Manual struct{}

func (Manual) SelectWorker(context.Context, *booking.Booking) (types.ID, error) {
	return "", fmt.Errorf("matching: manual matching requires an explicit worker_id: %w", types.ErrInvalidInput)
}

type WorkerSource interface {
	WorkersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*entity.Worker, error)
}

type NearestConfig struct {
	RadiusKm float64
	// Spread picks at random among the closest Spread eligible workers; 1 means always the closest.
	Spread int
}

// Nearest chooses an online worker close to the booking's coordinates whose
// own service radius covers the job.
type Nearest struct {
	index   Index
	workers WorkerSource
	cfg     NearestConfig
	log     *slog.Logger
}

func NewNearest(index Index, workers WorkerSource, cfg NearestConfig, log *slog.Logger) *Nearest {
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = DefaultSearchRadiusKm
	}
	if cfg.Spread <= 0 {
		cfg.Spread = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Nearest{index: index, workers: workers, cfg: cfg, log: log.With("module", "matching")}
}

func (n *Nearest) SelectWorker(ctx context.Context, b *booking.Booking) (types.ID, error) {
	if b.Location == nil {
		return "", fmt.Errorf("matching: booking %s has no coordinates: %w", b.ID, types.ErrInsufficientData)
	}
	candidates, err := n.Candidates(ctx, *b.Location)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("matching: no online worker within %.1f km: %w", n.cfg.RadiusKm, types.ErrWorkerUnavailable)
	}
	pool := make([]types.ID, 0, n.cfg.Spread)
	for _, c := range candidates[:min(n.cfg.Spread, len(candidates))] {
		pool = append(pool, c.WorkerID)
	}
	chosen := PickRandom(pool, 1)[0]
	n.log.InfoContext(ctx, "worker selected", "booking_id", b.ID, "worker_id", chosen, "candidates", len(candidates))
	return chosen, nil
}

// Candidates lists eligible online workers near p, closest first.
func (n *Nearest) Candidates(ctx context.Context, p types.Point) ([]Candidate, error) {
	nearby, err := n.index.Nearby(ctx, p, n.cfg.RadiusKm, selectPoolSize)
	if err != nil {
		return nil, fmt.Errorf("matching: geo search: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}
	ids := make([]types.ID, len(nearby))
	for i, c := range nearby {
		ids[i] = c.WorkerID
	}
	workers, err := n.workers.WorkersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, c := range nearby {
		w, ok := workers[c.WorkerID]
		if !ok || w.Availability != entity.AvailabilityOnline {
			continue
		}
		if w.ServiceRadiusKm > 0 && c.DistanceKm > w.ServiceRadiusKm {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// PickRandom returns up to n distinct ids from pool without modifying it.
func PickRandom(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return []types.ID{}
	}
	cp := make([]types.ID, len(pool))
	copy(cp, pool)
	rand.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	if n > len(cp) {
		n = len(cp)
	}
	return cp[:n]
}
