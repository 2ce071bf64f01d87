package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Policy names the predicate set a source's candidates must satisfy.
type Policy string

const (
	// PolicyLocation: location mentions the park, a borough or the city.
	PolicyLocation Policy = "location"
	// PolicyParkLocation: location mentions the park.
	PolicyParkLocation Policy = "park-location"
	// PolicyParkRace: race keyword in the name and the park named in the
	// location or the name.
	PolicyParkRace Policy = "park-race"
	// PolicyRunning: running keyword, no closures, no walk-only events.
	PolicyRunning Policy = "running"
	// PolicyRunningOrLarge: like PolicyRunning but large-crowd events also pass.
	PolicyRunningOrLarge Policy = "running-or-large"
	// PolicyNone keeps everything.
	PolicyNone Policy = "none"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyLocation, PolicyParkLocation, PolicyParkRace, PolicyRunning, PolicyRunningOrLarge, PolicyNone:
		return p, nil
	default:
		return "", fmt.Errorf("unknown relevance policy %q", s)
	}
}

// Drop reasons reported by Filter.Check.
const (
	ReasonDeniedVenue       = "denied-venue"
	ReasonWalkOnly          = "walk-only"
	ReasonNotRunning        = "not-running"
	ReasonNotRunningOrLarge = "not-running-or-large"
	ReasonOutsideArea       = "outside-area"
	ReasonOutsidePark       = "outside-park"
	ReasonNotParkRace       = "not-park-race"
)

// Keyword lists, matched as lowercase substrings.
var (
	RunningKeywords    = []string{"run", "race", "marathon", "triathlon", "5k", "10k", "half"}
	RaceKeywords       = []string{"run", "race", "marathon", "5k", "10k", "half", "mile", "walk"}
	LargeEventKeywords = []string{"concert", "festival", "rally", "parade"}
	DeniedVenues       = []string{"lawn", "playground"}
)

// Area describes the park the crawler collects events for.
type Area struct {
	Park     string   // "Central Park"
	City     string   // "New York"
	Boroughs []string // boroughs that contain the park, e.g. "Manhattan"
	// CompetingBoroughs name other parts of the city whose events are not ours.
	CompetingBoroughs []string
	Bounds            BBox
	TZ                *time.Location
}

// CentralPark is the default Area.
func CentralPark(tz *time.Location) Area {
	return Area{
		Park:              "Central Park",
		City:              "New York",
		Boroughs:          []string{"Manhattan"},
		CompetingBoroughs: []string{"Brooklyn", "Queens", "Bronx", "Staten Island"},
		Bounds: BBox{
			MinLon: -73.9817, MinLat: 40.7644,
			MaxLon: -73.9493, MaxLat: 40.8005,
		},
		TZ: tz,
	}
}

// Location returns the park's time zone, UTC if unset.
func (a Area) Location() *time.Location {
	if a.TZ == nil {
		return time.UTC
	}
	return a.TZ
}

// Today is the current calendar day at the park, used as the reference date
// for year inference.
func (a Area) Today() time.Time {
	now := Now().In(a.Location())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.Location())
}

// MentionsPark reports whether text names the park.
func (a Area) MentionsPark(text string) bool {
	return containsFold(text, a.Park)
}

// MentionsArea reports whether text names the park, one of its boroughs or the city.
func (a Area) MentionsArea(text string) bool {
	if a.MentionsPark(text) || containsFold(text, a.City) {
		return true
	}
	return containsAny(strings.ToLower(text), lowerAll(a.Boroughs))
}

// MentionsCompetingBorough reports whether text names a borough other than the park's.
func (a Area) MentionsCompetingBorough(text string) bool {
	return containsAny(strings.ToLower(text), lowerAll(a.CompetingBoroughs))
}

// HasKeyword reports whether any of the lowercase keywords occurs in text.
func HasKeyword(text string, keywords []string) bool {
	return containsAny(strings.ToLower(text), keywords)
}

// IsDeniedVenue reports whether a location names a lawn or playground, which
// in park listings are closures rather than events.
func IsDeniedVenue(location string) bool {
	return HasKeyword(location, DeniedVenues)
}

// rule is one named predicate. reject returns true when the candidate must
// be dropped for reason.
type rule struct {
	reason string
	reject func(f *Filter, c RawCandidate) bool
}

var (
	ruleDeniedVenue = rule{ReasonDeniedVenue, func(_ *Filter, c RawCandidate) bool {
		return IsDeniedVenue(c.Location) || containsFold(c.Name, "lawn closure")
	}}
	ruleWalkOnly = rule{ReasonWalkOnly, func(_ *Filter, c RawCandidate) bool {
		name := strings.ToLower(c.Name)
		return strings.Contains(name, "walk") && !strings.Contains(name, "run")
	}}
	ruleRunning = rule{ReasonNotRunning, func(_ *Filter, c RawCandidate) bool {
		return !HasKeyword(c.Name+" "+c.Description+" "+c.Category, RunningKeywords)
	}}
	ruleRunningOrLarge = rule{ReasonNotRunningOrLarge, func(_ *Filter, c RawCandidate) bool {
		text := c.Name + " " + c.Description + " " + c.Category
		return !HasKeyword(text, RunningKeywords) && !HasKeyword(text, LargeEventKeywords)
	}}
	ruleParkRace = rule{ReasonNotParkRace, func(f *Filter, c RawCandidate) bool {
		if !HasKeyword(c.Name, RaceKeywords) {
			return true
		}
		return !f.area.MentionsPark(c.Location) && !f.area.MentionsPark(c.Name)
	}}
)

var policyRules = map[Policy][]rule{
	PolicyRunning:        {ruleDeniedVenue, ruleWalkOnly, ruleRunning},
	PolicyRunningOrLarge: {ruleDeniedVenue, ruleWalkOnly, ruleRunningOrLarge},
	PolicyParkRace:       {ruleParkRace},
}

// MinGeocodeConfidence is the provider relevance a geocoded venue needs
// before its coordinates are trusted.
const MinGeocodeConfidence = 0.8

// Filter applies relevance policies to candidates. A Geocoder, when present,
// rescues candidates whose location text fails the keyword test but resolves
// to a point inside the park.
type Filter struct {
	area     Area
	geocoder Geocoder
	logger   *slog.Logger
}

// NewFilter creates a Filter. Pass a nil geocoder to disable the rescue.
func NewFilter(area Area, geocoder Geocoder, logger *slog.Logger) *Filter {
	return &Filter{area: area, geocoder: geocoder, logger: logger}
}

// Area returns the park the filter checks against.
func (f *Filter) Area() Area {
	return f.area
}

// Check reports whether c satisfies policy. When it does not, the returned
// reason names the first failing rule.
func (f *Filter) Check(ctx context.Context, policy Policy, c RawCandidate) (bool, string) {
	for _, r := range policyRules[policy] {
		if r.reject(f, c) {
			return false, r.reason
		}
	}

	switch policy {
	case PolicyLocation:
		if f.area.MentionsArea(c.Location) || f.insidePark(ctx, c) {
			return true, ""
		}
		return false, ReasonOutsideArea
	case PolicyParkLocation:
		if f.area.MentionsPark(c.Location) || f.insidePark(ctx, c) {
			return true, ""
		}
		return false, ReasonOutsidePark
	}
	return true, ""
}

func (f *Filter) insidePark(ctx context.Context, c RawCandidate) bool {
	if f.geocoder == nil || strings.TrimSpace(c.Location) == "" || f.area.Bounds.IsZero() {
		return false
	}
	if f.area.MentionsCompetingBorough(c.Location) {
		return false
	}
	query := c.Location
	if f.area.City != "" && !containsFold(query, f.area.City) {
		query += ", " + f.area.City
	}
	res, err := f.geocoder.ForwardGeocode(ctx, query, f.area.Bounds)
	if err != nil {
		f.logger.Warn("geocode rescue failed", "source", c.Source, "location", c.Location, "error", err)
		return false
	}
	if res.Lat == 0 && res.Lon == 0 || res.Confidence < MinGeocodeConfidence {
		return false
	}
	return f.area.Bounds.Contains(res.Lat, res.Lon)
}

func containsFold(text, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(sub))
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
