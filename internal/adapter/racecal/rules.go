package racecal

import (
	"regexp"
	"strings"
	"time"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// card is the raw text of one rendered race card.
type card struct {
	Text      string `json:"text"`
	DateText  string `json:"dateText"`
	TitleText string `json:"titleText"`
	Href      string `json:"href"`
}

// relevanceRule decides whether a card is about a race in the park.
type relevanceRule struct {
	name  string
	match func(a domain.Area, lower string) bool
}

// distanceTokens identify a road race on a card.
var distanceTokens = []string{"4 miles", "4m", "5k", "10k", "half marathon", "marathon"}

// relevanceRules are OR-ed: the first match keeps the card.
var relevanceRules = []relevanceRule{
	{"mentions-park", func(a domain.Area, lower string) bool {
		return a.MentionsPark(lower)
	}},
	{"city-road-race", func(a domain.Area, lower string) bool {
		return strings.Contains(lower, strings.ToLower(a.City)) &&
			!a.MentionsCompetingBorough(lower) &&
			containsAny(lower, distanceTokens) &&
			!strings.Contains(lower, "virtual")
	}},
}

// isRelevant returns the name of the matching rule, or "" if none matched.
func isRelevant(a domain.Area, text string) string {
	lower := strings.ToLower(text)
	for _, r := range relevanceRules {
		if r.match(a, lower) {
			return r.name
		}
	}
	return ""
}

// nameLineRule rejects a text line as a race name candidate.
type nameLineRule struct {
	name   string
	reject func(line string) bool
}

var (
	dayRe      = regexp.MustCompile(`\d{1,2}`)
	monthRe    = regexp.MustCompile(`(?i)(JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)`)
	clockRe    = regexp.MustCompile(`^\d{1,2}:\d{2}`)
	priceRe    = regexp.MustCompile(`^\$\d+`)
	distanceRe = regexp.MustCompile(`(?i)^(half marathon|10k|5k|4 miles|\d+ miles?)$`)
	startRe    = regexp.MustCompile(`(?i)(\d{1,2}:\d{2}\s*(?:AM|PM)?)`)
)

var nameLineRules = []nameLineRule{
	{"date", func(l string) bool { return dayRe.MatchString(l) && monthRe.MatchString(l) }},
	{"time", func(l string) bool { return clockRe.MatchString(l) }},
	{"city", func(l string) bool { return strings.Contains(strings.ToLower(l), "new york") }},
	{"price", func(l string) bool { return priceRe.MatchString(l) }},
	{"call-to-action", func(l string) bool { return strings.Contains(strings.ToLower(l), "learn more") }},
	{"distance", func(l string) bool { return distanceRe.MatchString(l) }},
}

// minNameLen is the shortest accepted race name, in characters; anything
// shorter is a label, not a title.
const minNameLen = 6

// extractName prefers the title element, falling back to the first card
// line that no name-line rule rejects.
func extractName(c card) string {
	if t := strings.TrimSpace(c.TitleText); t != "" {
		return t
	}
	for _, line := range strings.Split(c.Text, "\n") {
		line = strings.TrimSpace(line)
		if len([]rune(line)) < minNameLen {
			continue
		}
		if rejectedBy(line) != "" {
			continue
		}
		return line
	}
	return ""
}

func rejectedBy(line string) string {
	for _, r := range nameLineRules {
		if r.reject(line) {
			return r.name
		}
	}
	return ""
}

// extractDate reads the card's date element with day and month-abbreviation
// patterns and infers the year from ref.
func extractDate(c card, ref time.Time) (string, bool) {
	return domain.NormalizeAbbrevDate(c.DateText, ref)
}

// extractStartTime finds the first H:MM clock time on the card.
func extractStartTime(c card) string {
	if m := startRe.FindStringSubmatch(c.Text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// nameKey folds a name to lowercase alphanumerics for in-page dedup.
func nameKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsAny(lower string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
