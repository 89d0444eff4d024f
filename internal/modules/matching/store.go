// README: Worker geo index backed by Redis GEO, with an in-memory variant for tests and --memory runs.
package matching

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"karigar/internal/types"
)

const workerGeoKey = "matching:workers"

type Index interface {
	UpdateWorker(ctx context.Context, id types.ID, p types.Point) error
	RemoveWorker(ctx context.Context, id types.ID) error
	// Nearby returns up to limit workers within radiusKm, closest first.
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error)
}

type RedisIndex struct {
	redis *redis.Client
}

func NewRedisIndex(rdb *redis.Client) *RedisIndex {
	return &RedisIndex{redis: rdb}
}

func (s *RedisIndex) UpdateWorker(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, workerGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *RedisIndex) RemoveWorker(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, workerGeoKey, string(id)).Err()
}

func (s *RedisIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error) {
	results, err := s.redis.GeoSearchLocation(ctx, workerGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{
			WorkerID:   types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}

type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[types.ID]types.Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[types.ID]types.Point)}
}

func (m *MemoryIndex) UpdateWorker(_ context.Context, id types.ID, p types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[id] = p
	return nil
}

func (m *MemoryIndex) RemoveWorker(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, p types.Point, radiusKm float64, limit int) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Candidate
	for id, pos := range m.positions {
		d := types.DistanceMeters(p, pos) / 1000
		if d <= radiusKm {
			out = append(out, Candidate{WorkerID: id, Position: pos, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if math.Abs(out[i].DistanceKm-out[j].DistanceKm) > 1e-9 {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].WorkerID < out[j].WorkerID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
