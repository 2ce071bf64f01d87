// Package racecal scrapes a running club's race calendar. The calendar is
// rendered client-side with unstable class names, so cards are read as text
// and interpreted by ordered, named rules.
package racecal

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cprunner/park-events-etl/internal/adapter/browser"
	"github.com/cprunner/park-events-etl/internal/domain"
)

// Evaluator renders a page and evaluates a script in it.
type Evaluator interface {
	Evaluate(ctx context.Context, url string, wait browser.Wait, script string, out any) error
}

const (
	defaultLocation    = "Central Park, New York"
	defaultDescription = "NYRR Race"
)

// cardScript collects raw text per race card; all interpretation happens in Go.
const cardScript = `Array.from(document.querySelectorAll('.upcoming-event, .upcoming-race')).map(card => {
  const dateEl = card.querySelector('.upcoming-race-date, [class*="date"]');
  const titleEl = card.querySelector('.upcoming-race-title, h3, h4, [class*="title"]');
  const linkEl = card.querySelector('a[href*="/run/"], a[href*="events.nyrr.org"]');
  return {
    text: card.innerText || '',
    dateText: dateEl ? dateEl.innerText.trim() : '',
    titleText: titleEl ? titleEl.innerText.trim() : '',
    href: linkEl ? (linkEl.getAttribute('href') || '') : ''
  };
})`

// Options configures a Source.
type Options struct {
	Name        string
	URL         string
	SettleDelay time.Duration
}

// Source reads one race calendar page.
type Source struct {
	name      string
	url       string
	settle    time.Duration
	evaluator Evaluator
	area      domain.Area
	logger    *slog.Logger
}

// New creates a race calendar Source.
func New(opts Options, evaluator Evaluator, area domain.Area, logger *slog.Logger) *Source {
	return &Source{
		name:      opts.Name,
		url:       opts.URL,
		settle:    opts.SettleDelay,
		evaluator: evaluator,
		area:      area,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

// Fetch renders the calendar, waits for it to settle and turns relevant
// cards into candidates.
func (s *Source) Fetch(ctx context.Context) ([]domain.RawCandidate, error) {
	var cards []card
	if err := s.evaluator.Evaluate(ctx, s.url, browser.Wait{Selector: "body", Settle: s.settle}, cardScript, &cards); err != nil {
		return nil, fmt.Errorf("evaluate race calendar: %w", err)
	}

	out := s.interpret(cards, s.area.Today())
	s.logger.Info("race calendar fetched", "source", s.name, "cards", len(cards), "candidates", len(out))
	return out, nil
}

// interpret applies the card rules in order: relevance, date, name, time,
// link, then in-page dedup by name key.
func (s *Source) interpret(cards []card, ref time.Time) []domain.RawCandidate {
	seen := make(map[string]bool)
	var out []domain.RawCandidate

	for _, c := range cards {
		rule := isRelevant(s.area, c.Text)
		if rule == "" {
			continue
		}

		date, ok := extractDate(c, ref)
		if !ok {
			s.logger.Debug("race card without date", "source", s.name, "date_text", c.DateText)
			continue
		}

		name := extractName(c)
		if len([]rune(name)) < minNameLen {
			continue
		}
		key := nameKey(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		out = append(out, domain.RawCandidate{
			Source:      s.name,
			Name:        name,
			Date:        date,
			StartTime:   extractStartTime(c),
			Location:    defaultLocation,
			Description: defaultDescription,
			SourceURL:   s.url,
			EventURL:    s.resolve(c.Href),
		})
		s.logger.Debug("race card kept", "source", s.name, "name", name, "rule", rule)
	}
	return out
}

func (s *Source) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(s.url)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
