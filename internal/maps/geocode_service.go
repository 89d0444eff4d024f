// README: Google Maps Geocoding adapter that turns booking addresses into coordinates.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"karigar/internal/types"
)

type GeocodeService struct {
	client *maps.Client
	opts   Options
}

func NewGeocodeService(client *maps.Client, opts Options) *GeocodeService {
	return &GeocodeService{client: client, opts: opts}
}

func (s *GeocodeService) Geocode(ctx context.Context, address string) (types.Point, error) {
	resp, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Language: s.opts.Language,
		Region:   s.opts.Region,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(resp) == 0 {
		return types.Point{}, fmt.Errorf("no geocoding result for %q", address)
	}
	loc := resp[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
