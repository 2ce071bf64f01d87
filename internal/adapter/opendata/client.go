// Package opendata queries the city's open-data events dataset (a Socrata
// SODA endpoint) for permitted events inside the park.
package opendata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// DefaultEventsPage is where open-data events link to, since rows carry no URL.
const DefaultEventsPage = "https://www.nycgovparks.org/parks/central-park/events"

// Socrata returns floating timestamps with or without milliseconds.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// Options configures a Source.
type Options struct {
	Name       string
	BaseURL    string
	AppToken   string
	Limit      int
	EventsPage string
	Timeout    time.Duration
}

// Source fetches events from the open-data API.
type Source struct {
	name       string
	baseURL    string
	appToken   string
	limit      int
	eventsPage string
	area       domain.Area
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an open-data Source scoped to the area's park.
func New(opts Options, area domain.Area, logger *slog.Logger) *Source {
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	if opts.EventsPage == "" {
		opts.EventsPage = DefaultEventsPage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Source{
		name:       opts.Name,
		baseURL:    opts.BaseURL,
		appToken:   opts.AppToken,
		limit:      opts.Limit,
		eventsPage: opts.EventsPage,
		area:       area,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

func (s *Source) Name() string { return s.name }

// row is one record of the events dataset.
type row struct {
	EventName     string `json:"event_name"`
	EventType     string `json:"event_type"`
	EventAgency   string `json:"event_agency"`
	EventLocation string `json:"event_location"`
	StartDateTime string `json:"start_date_time"`
	EndDateTime   string `json:"end_date_time"`
}

// Fetch queries upcoming events at the park and keeps running and
// large-crowd events that are not lawn or playground closures.
func (s *Source) Fetch(ctx context.Context) ([]domain.RawCandidate, error) {
	rows, err := s.query(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawCandidate, 0, len(rows))
	for _, r := range rows {
		if !relevant(r) {
			continue
		}
		c, err := s.toCandidate(r)
		if err != nil {
			s.logger.Debug("open data row skipped", "name", r.EventName, "error", err)
			continue
		}
		out = append(out, c)
	}

	s.logger.Info("open data fetched", "source", s.name, "rows", len(rows), "relevant", len(out))
	return out, nil
}

func (s *Source) query(ctx context.Context) ([]row, error) {
	today := s.area.Today().Format("2006-01-02")
	park := strings.ReplaceAll(s.area.Park, "'", "''")

	params := url.Values{
		"$where": {fmt.Sprintf("event_location LIKE '%%%s%%' AND start_date_time >= '%sT00:00:00'", park, today)},
		"$order": {"start_date_time ASC"},
		"$limit": {strconv.Itoa(s.limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.appToken != "" {
		req.Header.Set("X-App-Token", s.appToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open data request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("open data API error: status %d: %s", resp.StatusCode, body)
	}

	var rows []row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

// relevant applies the dataset-specific keyword lists to name and type.
func relevant(r row) bool {
	if domain.IsDeniedVenue(r.EventLocation) {
		return false
	}
	text := r.EventName + " " + r.EventType
	return domain.HasKeyword(text, domain.RunningKeywords) || domain.HasKeyword(text, domain.LargeEventKeywords)
}

func (s *Source) toCandidate(r row) (domain.RawCandidate, error) {
	start, err := s.parseTimestamp(r.StartDateTime)
	if err != nil {
		return domain.RawCandidate{}, fmt.Errorf("start_date_time: %w", err)
	}

	c := domain.RawCandidate{
		Source:      s.name,
		Name:        orDefault(r.EventName, "Unnamed Event"),
		Date:        start.Format("2006-01-02"),
		StartTime:   domain.FormatClock(start),
		Location:    orDefault(r.EventLocation, s.area.Park),
		Description: orDefault(r.EventType, "Event") + " - " + orDefault(r.EventAgency, "NYC Parks"),
		Category:    r.EventType,
		SourceURL:   s.eventsPage,
	}
	if r.EndDateTime != "" {
		if end, err := s.parseTimestamp(r.EndDateTime); err == nil {
			c.EndTime = domain.FormatClock(end)
		}
	}
	return c, nil
}

// parseTimestamp reads a floating timestamp as park-local wall time.
func (s *Source) parseTimestamp(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, v, s.area.Location())
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
