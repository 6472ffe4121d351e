// README: Road distance and reverse geocoding backed by the Google Maps web services.
package maps

import (
	"context"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"ridematch/internal/types"
)

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client   *maps.Client
	language string
	region   string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, language, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: language, region: region}, nil
}

// DistanceKm returns the driving distance between two points.
func (s *RouteService) DistanceKm(ctx context.Context, origin, destination types.Point) (float64, error) {
	resp, err := s.client.DistanceMatrix(ctx, s.distanceRequest(origin, destination))
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("no route found")
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("no route found: %s", el.Status)
	}
	return float64(el.Distance.Meters) / 1000, nil
}

// ReverseGeocode returns the formatted address closest to p.
func (s *RouteService) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	results, err := s.client.ReverseGeocode(ctx, s.geocodeRequest(p))
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no address found")
	}
	return results[0].FormattedAddress, nil
}

func (s *RouteService) distanceRequest(origin, destination types.Point) *maps.DistanceMatrixRequest {
	return &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(origin)},
		Destinations: []string{latLng(destination)},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsMetric,
		Language:     s.language,
	}
}

// geocodeRequest biases results to the configured region; the distance matrix has no region parameter.
func (s *RouteService) geocodeRequest(p types.Point) *maps.GeocodingRequest {
	return &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: s.language,
		Region:   s.region,
	}
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
