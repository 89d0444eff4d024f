// README: Route estimates derived from the worker's latest fix and the job location.
package route

import (
	"time"

	"karigar/internal/modules/location"
	"karigar/internal/types"
)

type Estimate struct {
	Points         []types.Point `json:"points"`
	DistanceMeters int           `json:"distance_meters"`
	EtaSeconds     int           `json:"eta_seconds"`
	ComputedAt     time.Time     `json:"computed_at"`
	BasedOnFix     location.Fix  `json:"based_on_fix"`
	Destination    types.Point   `json:"destination"`
	Stale          bool          `json:"stale"`
}

func (e *Estimate) clone() *Estimate {
	c := *e
	c.Points = append([]types.Point(nil), e.Points...)
	return &c
}

type Config struct {
	// ReuseWithinMeters is how far the worker may move before a cached route is recomputed.
	ReuseWithinMeters float64
	TTL               time.Duration
	ProviderTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReuseWithinMeters: 50,
		TTL:               30 * time.Second,
		ProviderTimeout:   5 * time.Second,
	}
}
