package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves free-text venue names to coordinates.
type Geocoder interface {
	// ForwardGeocode converts a location string, biased toward the given
	// bounding box, to coordinates.
	ForwardGeocode(ctx context.Context, query string, bounds BBox) (GeocodingResult, error)
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// IsZero reports whether the box was left unset.
func (b BBox) IsZero() bool {
	return b == BBox{}
}
