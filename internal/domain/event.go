package domain

import "errors"

var (
	// ErrMissingName is returned when a candidate has no usable event name.
	ErrMissingName = errors.New("candidate has no name")

	// ErrInvalidDate is returned when a candidate's date cannot be normalized
	// to a valid YYYY-MM-DD calendar date.
	ErrInvalidDate = errors.New("candidate date cannot be normalized")
)

// RawCandidate is a single source's unvalidated view of an event. Adapters
// build it once per discovered event and never mutate it afterwards; it is
// either canonicalized and merged, or dropped.
type RawCandidate struct {
	Source string // adapter name, e.g. "nyc-parks"

	Name        string
	Date        string // ISO, free text, or empty
	StartTime   string // locale formatted, e.g. "7:00 AM"
	EndTime     string
	Location    string
	Description string
	Category    string

	SourceURL string // page the candidate was extracted from
	EventURL  string // direct link to the event, if known
}

// CanonicalEvent is the normalized, deduplicated unit persisted to the store.
// Date is always a valid calendar date in YYYY-MM-DD form.
type CanonicalEvent struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}
