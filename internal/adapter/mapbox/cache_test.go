package mapbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cprunner/park-events-etl/internal/domain"
	"github.com/cprunner/park-events-etl/internal/observability"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	forwardCalls int
	result       domain.GeocodingResult
}

func (m *countingGeocoder) ForwardGeocode(_ context.Context, _ string, _ domain.BBox) (domain.GeocodingResult, error) {
	m.forwardCalls++
	return m.result, nil
}

var testBounds = domain.CentralPark(nil).Bounds

// --- CachedGeocoder tests ---

func TestCachedGeocoder_ForwardCacheHit(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{Lat: 40.7739, Lon: -73.9710, PlaceName: "Bethesda Terrace", FormattedAddress: "Bethesda Terrace, New York"},
	}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	r1, err := cached.ForwardGeocode(context.Background(), "Bethesda Terrace", testBounds)
	require.NoError(t, err)
	assert.Equal(t, "Bethesda Terrace", r1.PlaceName)

	r2, err := cached.ForwardGeocode(context.Background(), "  bethesda terrace ", testBounds)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, inner.forwardCalls, "should only call inner once")
}

func TestCachedGeocoder_EmptyResultNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere", testBounds)
	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere", testBounds)

	assert.Equal(t, 2, inner.forwardCalls)
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{PlaceName: "Place", FormattedAddress: "Place, NY"},
	}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.ForwardGeocode(context.Background(), "Sheep Meadow", testBounds)
	_, _ = cached.ForwardGeocode(context.Background(), "Great Lawn", testBounds)
	_, _ = cached.ForwardGeocode(context.Background(), "Sheep Meadow", domain.BBox{})

	assert.Equal(t, 3, inner.forwardCalls)
}

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		ops     func(c *lruCache)
		present []string
		absent  []string
	}{
		{
			name:    "under limit",
			limit:   3,
			ops:     func(c *lruCache) { c.put("a", domain.GeocodingResult{}); c.put("b", domain.GeocodingResult{}) },
			present: []string{"a", "b"},
			absent:  []string{"missing"},
		},
		{
			name:  "oldest evicted",
			limit: 2,
			ops: func(c *lruCache) {
				for _, k := range []string{"a", "b", "c"} {
					c.put(k, domain.GeocodingResult{})
				}
			},
			present: []string{"b", "c"},
			absent:  []string{"a"},
		},
		{
			name:  "read refreshes",
			limit: 2,
			ops: func(c *lruCache) {
				c.put("a", domain.GeocodingResult{})
				c.put("b", domain.GeocodingResult{})
				c.get("a")
				c.put("c", domain.GeocodingResult{})
			},
			present: []string{"a", "c"},
			absent:  []string{"b"},
		},
		{
			name:  "overwrite keeps one entry",
			limit: 2,
			ops: func(c *lruCache) {
				c.put("a", domain.GeocodingResult{PlaceName: "old"})
				c.put("a", domain.GeocodingResult{PlaceName: "new"})
				c.put("b", domain.GeocodingResult{})
			},
			present: []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newLRUCache(tt.limit)
			tt.ops(c)
			for _, k := range tt.present {
				_, ok := c.get(k)
				assert.True(t, ok, k)
			}
			for _, k := range tt.absent {
				_, ok := c.get(k)
				assert.False(t, ok, k)
			}
		})
	}

	c := newLRUCache(1)
	c.put("a", domain.GeocodingResult{PlaceName: "old"})
	c.put("a", domain.GeocodingResult{PlaceName: "new"})
	got, _ := c.get("a")
	assert.Equal(t, "new", got.PlaceName)
}
