package domain

import (
	"fmt"
	"strings"
	"time"
)

// Canonicalize is the single conversion from any source's RawCandidate into a
// CanonicalEvent. It trims every field, folds CRLF and CR line breaks to LF
// (the store's CSV reader does the same, so descriptions keep their length
// across runs), normalizes the date against ref and
// resolves the event URL (direct link first, then the page it came from).
func Canonicalize(c RawCandidate, ref time.Time) (CanonicalEvent, error) {
	name := clean(c.Name)
	if name == "" {
		return CanonicalEvent{}, ErrMissingName
	}

	date, ok := NormalizeDate(c.Date, ref)
	if !ok {
		return CanonicalEvent{}, fmt.Errorf("%w: %q", ErrInvalidDate, c.Date)
	}

	url := clean(c.EventURL)
	if url == "" {
		url = clean(c.SourceURL)
	}

	return CanonicalEvent{
		Name:        name,
		Date:        date,
		StartTime:   clean(c.StartTime),
		EndTime:     clean(c.EndTime),
		Location:    clean(c.Location),
		Description: clean(c.Description),
		URL:         url,
	}, nil
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func clean(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}
