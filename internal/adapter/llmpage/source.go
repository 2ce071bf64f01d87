// Package llmpage extracts events from arbitrary pages by sending their
// visible text to a chat completion model. It is the fallback for sources
// whose markup is too irregular for fixed rules.
package llmpage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/cprunner/park-events-etl/internal/adapter/browser"
	"github.com/cprunner/park-events-etl/internal/domain"
	"github.com/cprunner/park-events-etl/internal/observability"
)

// Renderer returns a page's HTML, rendered or static.
type Renderer interface {
	RenderHTML(ctx context.Context, url string, wait browser.Wait) (string, error)
}

// Completer runs one chat completion.
type Completer interface {
	Enabled() bool
	Complete(ctx context.Context, system, user string) (string, error)
}

// Options configures a Source.
type Options struct {
	Name        string
	URL         string
	DetailLinks bool
	SettleDelay time.Duration
}

// Source extracts events from one page.
type Source struct {
	opts      Options
	renderer  Renderer
	completer Completer
	area      domain.Area
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates an LLM page Source.
func New(opts Options, renderer Renderer, completer Completer, area domain.Area, metrics *observability.Metrics, logger *slog.Logger) *Source {
	return &Source{
		opts:      opts,
		renderer:  renderer,
		completer: completer,
		area:      area,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.opts.Name }

// Fetch renders the page, optionally follows detail links, and asks the
// model for events. Without a credential it returns nothing and does no I/O.
// An unparseable completion is logged and yields nothing.
func (s *Source) Fetch(ctx context.Context) ([]domain.RawCandidate, error) {
	if s.completer == nil || !s.completer.Enabled() {
		s.logger.Info("no extraction credential, skipping source", "source", s.opts.Name)
		return nil, nil
	}

	html, err := s.renderer.RenderHTML(ctx, s.opts.URL, browser.Wait{Settle: s.opts.SettleDelay})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", s.opts.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.opts.URL, err)
	}

	var links []string
	if s.opts.DetailLinks {
		links = detailLinks(doc, s.opts.URL, maxDetailLinks)
	}
	text := pageText(doc, maxPageChars) + s.detailText(ctx, links)

	reply, err := s.completer.Complete(ctx, s.systemPrompt(), s.userPrompt(text))
	if err != nil {
		return nil, fmt.Errorf("extract events from %s: %w", s.opts.URL, err)
	}

	events, strategy, err := parseEvents(reply)
	if err != nil {
		s.metrics.LLMRequests.WithLabelValues("unparsed").Inc()
		s.logger.Warn("no events parsed from completion", "source", s.opts.Name, "response", reply)
		return nil, nil
	}

	out := make([]domain.RawCandidate, 0, len(events))
	for _, e := range events {
		out = append(out, domain.RawCandidate{
			Source:      s.opts.Name,
			Name:        e.Name.String(),
			Date:        e.Date.String(),
			StartTime:   e.StartTime.String(),
			EndTime:     e.EndTime.String(),
			Location:    e.Location.String(),
			Description: e.Description.String(),
			Category:    e.Category.String(),
			SourceURL:   s.opts.URL,
			EventURL:    e.EventURL.String(),
		})
	}
	s.logger.Info("page extracted",
		"source", s.opts.Name,
		"events", len(out),
		"strategy", strategy,
		"detail_links", len(links),
	)
	return out, nil
}

// detailText fetches each link and formats its text as an appendix. Failed
// links are skipped.
func (s *Source) detailText(ctx context.Context, links []string) string {
	var b strings.Builder
	for _, link := range links {
		html, err := s.renderer.RenderHTML(ctx, link, browser.Wait{})
		if err != nil {
			s.logger.Warn("detail page fetch failed", "source", s.opts.Name, "url", link, "error", err)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n\nAdditional information from %s:\n%s", link, pageText(doc, maxDetailChars))
	}
	return b.String()
}

func (s *Source) systemPrompt() string {
	return "You are an expert at extracting structured event data from text. " +
		"Extract all events mentioned in the text and format them as JSON. " +
		"Pay special attention to race events, dates, times, and locations. " +
		"Look for location information in any additional details sections."
}

func (s *Source) userPrompt(text string) string {
	today := s.area.Today().Format("2006-01-02")
	return fmt.Sprintf(`Extract all running events and races from this text from %s. Focus on event name, date, time, and location. Return ONLY a JSON array with objects containing these fields: name, date (YYYY-MM-DD format), startTime, endTime, location, description, category (if available), eventUrl (direct link to the event if available).
Today is %s; dates without a year are on or after today. Events of interest take place in or around %s, %s. When a listing gives a race start time, use it as the event start time.
Here's the text: %s`, s.opts.URL, today, s.area.Park, s.area.City, text)
}
