// README: Matching candidates and selection defaults.
package matching

import "karigar/internal/types"

// Candidate is a worker position returned by a geo index query.
type Candidate struct {
	WorkerID   types.ID    `json:"worker_id"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distance_km"`
}

const (
	// DefaultSearchRadiusKm bounds the nearest-worker search when no radius is configured.
	DefaultSearchRadiusKm = 15.0
	// selectPoolSize is how many nearby workers are fetched before filtering.
	selectPoolSize = 20
)
