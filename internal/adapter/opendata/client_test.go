package opendata

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cprunner/park-events-etl/internal/domain"
)

const sampleRows = `[
  {"event_name":"Fall 5K","event_type":"Sport - Adult","event_agency":"Parks Department","event_location":"Central Park: Sheep Meadow","start_date_time":"2024-10-12T08:00:00.000","end_date_time":"2024-10-12T10:30:00.000"},
  {"event_name":"Summer Stage Concert","event_type":"Special Event","event_location":"Central Park: Rumsey Playfield","start_date_time":"2024-07-04T19:00:00"},
  {"event_name":"Lawn Closure","event_type":"Maintenance","event_location":"Central Park: Great Lawn","start_date_time":"2024-07-05T00:00:00"},
  {"event_name":"Kids Race","event_type":"Sport - Youth","event_location":"Central Park: Heckscher Playground","start_date_time":"2024-07-06T09:00:00"},
  {"event_name":"Yoga","event_type":"Fitness","event_location":"Central Park: East Meadow","start_date_time":"2024-07-07T09:00:00"},
  {"event_name":"Broken Run","event_type":"Sport","event_location":"Central Park","start_date_time":"not a time"}
]`

func testArea(t *testing.T) domain.Area {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return domain.CentralPark(ny)
}

func newTestSource(t *testing.T, url, token string) *Source {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
	return New(Options{Name: "nyc-open-data", BaseURL: url, AppToken: token, Limit: 500}, testArea(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// 02:00 UTC on June 2 is still June 1 in New York.
		assert.Equal(t, "event_location LIKE '%Central Park%' AND start_date_time >= '2024-06-01T00:00:00'", q.Get("$where"))
		assert.Equal(t, "start_date_time ASC", q.Get("$order"))
		assert.Equal(t, "500", q.Get("$limit"))
		assert.Equal(t, "app-token", r.Header.Get("X-App-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleRows))
	}))
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, "app-token").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.RawCandidate{
		Source:      "nyc-open-data",
		Name:        "Fall 5K",
		Date:        "2024-10-12",
		StartTime:   "8:00 AM",
		EndTime:     "10:30 AM",
		Location:    "Central Park: Sheep Meadow",
		Description: "Sport - Adult - Parks Department",
		Category:    "Sport - Adult",
		SourceURL:   DefaultEventsPage,
	}, got[0])

	assert.Equal(t, "Summer Stage Concert", got[1].Name)
	assert.Equal(t, "7:00 PM", got[1].StartTime)
	assert.Empty(t, got[1].EndTime)
	assert.Equal(t, "Special Event - NYC Parks", got[1].Description)
}

func TestSource_Fetch_NoTokenHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["X-App-Token"]
		assert.False(t, ok)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, "").Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSource_Fetch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"throttled"}`))
	}))
	defer srv.Close()

	_, err := newTestSource(t, srv.URL, "").Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSource_Fetch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":true}`))
	}))
	defer srv.Close()

	_, err := newTestSource(t, srv.URL, "").Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(row{EventName: "Marathon Expo", EventLocation: "Central Park"}))
	assert.True(t, relevant(row{EventName: "Community Day", EventType: "Festival"}))
	assert.False(t, relevant(row{EventName: "Half Marathon", EventLocation: "North Meadow Lawn"}))
	assert.False(t, relevant(row{EventName: "Picnic", EventType: "Private"}))
}
