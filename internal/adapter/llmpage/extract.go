package llmpage

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cprunner/park-events-etl/internal/adapter/llm"
)

// extracted is one event object as returned by the model. Field values are
// loose: models emit null, numbers or nested junk where strings belong.
type extracted struct {
	Name        looseString `json:"name"`
	Date        looseString `json:"date"`
	StartTime   looseString `json:"startTime"`
	EndTime     looseString `json:"endTime"`
	Location    looseString `json:"location"`
	Description looseString `json:"description"`
	Category    looseString `json:"category"`
	EventURL    looseString `json:"eventUrl"`
}

type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	case data[0] == '{', data[0] == '[':
		*s = ""
	default:
		*s = looseString(data)
	}
	return nil
}

func (s looseString) String() string { return strings.TrimSpace(string(s)) }

// parseStrategy tries to read event objects from a completion.
type parseStrategy struct {
	name  string
	parse func(text string) []extracted
}

var (
	arraySpanRe  = regexp.MustCompile(`(?s)\[.*\]`)
	objectSpanRe = regexp.MustCompile(`\{[^{}]*\}`)
)

// parseStrategies run in order; the first yielding at least one object wins.
var parseStrategies = []parseStrategy{
	{"whole-array", func(text string) []extracted {
		var out []extracted
		if json.Unmarshal([]byte(strings.TrimSpace(text)), &out) != nil {
			return nil
		}
		return out
	}},
	{"array-span", func(text string) []extracted {
		span := arraySpanRe.FindString(text)
		if span == "" {
			return nil
		}
		var out []extracted
		if json.Unmarshal([]byte(span), &out) != nil {
			return nil
		}
		return out
	}},
	{"object-spans", func(text string) []extracted {
		var out []extracted
		for _, span := range objectSpanRe.FindAllString(text, -1) {
			var e extracted
			if json.Unmarshal([]byte(span), &e) == nil {
				out = append(out, e)
			}
		}
		return out
	}},
}

// parseEvents returns the objects found by the first successful strategy and
// its name, or llm.ErrNoEvents.
func parseEvents(text string) ([]extracted, string, error) {
	for _, s := range parseStrategies {
		if events := s.parse(text); len(events) > 0 {
			return events, s.name, nil
		}
	}
	return nil, "", llm.ErrNoEvents
}
