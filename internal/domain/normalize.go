package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDateLayout = "2006-01-02"

var (
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	// longDateRe matches "December 5", "december 5, 2025" and "March 3 2026".
	longDateRe = regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:,?\s*(\d{4}))?`)

	// Calendar cards split the day number and the month abbreviation into
	// separate tokens ("12\nOCT"), so they are matched independently.
	cardDayRe   = regexp.MustCompile(`(\d{1,2})`)
	cardMonthRe = regexp.MustCompile(`(?i)(JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)`)
)

var longMonths = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var abbrevMonths = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// NormalizeDate converts a textual date into YYYY-MM-DD. ISO dates pass through
// unchanged; "Month D[, YYYY]" forms are parsed case-insensitively and a
// missing year is inferred from ref with InferYear. It reports false when no
// recognizable, valid calendar date is present.
func NormalizeDate(text string, ref time.Time) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if isoDateRe.MatchString(text) {
		if _, err := time.Parse(isoDateLayout, text); err != nil {
			return "", false
		}
		return text, true
	}

	m := longDateRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	month := longMonths[strings.ToLower(m[1])]
	day, err := strconv.Atoi(m[2])
	if err != nil {
		return "", false
	}

	year := 0
	if m[3] != "" {
		year, err = strconv.Atoi(m[3])
		if err != nil {
			return "", false
		}
	} else {
		year = InferYear(month, day, ref)
	}
	return formatDate(year, month, day)
}

// NormalizeAbbrevDate handles calendar-card dates where a day number and a
// three-letter month abbreviation appear somewhere in the text, e.g. "12 OCT"
// or "OCT\n12". The year is always inferred from ref.
func NormalizeAbbrevDate(text string, ref time.Time) (string, bool) {
	dm := cardDayRe.FindStringSubmatch(text)
	mm := cardMonthRe.FindStringSubmatch(text)
	if dm == nil || mm == nil {
		return "", false
	}
	month, ok := abbrevMonths[strings.ToUpper(mm[1])]
	if !ok {
		return "", false
	}
	day, err := strconv.Atoi(dm[1])
	if err != nil {
		return "", false
	}
	return formatDate(InferYear(month, day, ref), month, day)
}

// InferYear picks the year for a month/day that was published without one.
// Event calendars only list upcoming dates, so anything earlier than the
// reference day rolls over into next year:
//   - earlier month than ref: next year
//   - same month: earlier day is next year, otherwise this year
//   - later month: this year
func InferYear(month time.Month, day int, ref time.Time) int {
	year := ref.Year()
	switch {
	case month < ref.Month():
		return year + 1
	case month == ref.Month():
		if day < ref.Day() {
			return year + 1
		}
		return year
	default:
		return year
	}
}

// FormatClock renders a wall-clock time the way US event listings do: "7:00 AM".
func FormatClock(t time.Time) string {
	return t.Format("3:04 PM")
}

// formatDate validates y/m/d as a real calendar date (rejecting e.g. Feb 30).
func formatDate(year int, month time.Month, day int) (string, bool) {
	if day < 1 || day > 31 || year < 1 {
		return "", false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return "", false
	}
	return t.Format(isoDateLayout), true
}
