// README: Google Maps Directions adapter used as the routing provider.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"karigar/internal/types"
)

// Route is one driving route between two points.
type Route struct {
	Polyline        []types.Point
	DistanceMeters  int
	DurationSeconds int
}

type Options struct {
	APIKey   string
	Language string
	Region   string
}

func NewClient(opts Options) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// RouteService handles Directions requests.
type RouteService struct {
	client *maps.Client
	opts   Options
}

func NewRouteService(client *maps.Client, opts Options) *RouteService {
	return &RouteService{client: client, opts: opts}
}

// Route returns the first driving route from origin to destination.
func (s *RouteService) Route(ctx context.Context, origin, destination types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
		Language:    s.opts.Language,
		Region:      s.opts.Region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("no route found")
	}
	return toRoute(routes[0])
}

func toRoute(r maps.Route) (Route, error) {
	var out Route
	for _, leg := range r.Legs {
		out.DistanceMeters += leg.Distance.Meters
		out.DurationSeconds += int(leg.Duration.Seconds())
	}
	pts, err := r.OverviewPolyline.Decode()
	if err != nil {
		return Route{}, fmt.Errorf("decode polyline: %w", err)
	}
	out.Polyline = make([]types.Point, len(pts))
	for i, p := range pts {
		out.Polyline[i] = types.Point{Lat: p.Lat, Lng: p.Lng}
	}
	return out, nil
}
