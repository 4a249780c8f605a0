// README: Google Maps geocoding fallback for addresses missing from the area table.
package geocode

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"dispatchd/internal/types"
)

type Google struct {
	client *maps.Client
	region string
}

func NewGoogle(apiKey, region string) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client, region: region}, nil
}

func (g *Google) Lookup(ctx context.Context, address string) (types.Point, error) {
	if strings.TrimSpace(address) == "" {
		return types.Point{}, ErrNoMatch
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrNoMatch
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
