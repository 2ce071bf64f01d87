// Package parks scrapes the parks department's paginated event listing for
// the park. Listing cards use hCalendar markup (.vevent, .dtstart[title]),
// which is stable enough for fixed selectors.
package parks

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/cprunner/park-events-etl/internal/adapter/browser"
	"github.com/cprunner/park-events-etl/internal/domain"
)

// Renderer returns a page's HTML after client-side rendering.
type Renderer interface {
	RenderHTML(ctx context.Context, url string, wait browser.Wait) (string, error)
}

var categoryRe = regexp.MustCompile(`Category:\s*([^\n]+)`)

// Machine-readable timestamps in .dtstart/.dtend title attributes.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Options configures a Source.
type Options struct {
	Name      string
	BaseURL   string
	MaxPages  int
	PageDelay time.Duration
}

// Source walks the listing pages: <base>, <base>/page/2, ...
type Source struct {
	name      string
	baseURL   string
	maxPages  int
	pageDelay time.Duration
	renderer  Renderer
	area      domain.Area
	logger    *slog.Logger
}

// New creates a parks listing Source.
func New(opts Options, renderer Renderer, area domain.Area, logger *slog.Logger) *Source {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 3
	}
	return &Source{
		name:      opts.Name,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		maxPages:  opts.MaxPages,
		pageDelay: opts.PageDelay,
		renderer:  renderer,
		area:      area,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

// listing is one .vevent card as found on the page.
type listing struct {
	Title    string
	Href     string
	Start    string
	End      string
	Location string
	Category string
	Free     bool
}

// Fetch renders listing pages in order until MaxPages, a page with no
// cards, or a page without a "Next" control. A failure after the first page
// keeps what was already collected.
func (s *Source) Fetch(ctx context.Context) ([]domain.RawCandidate, error) {
	var out []domain.RawCandidate

	for page := 1; page <= s.maxPages; page++ {
		if page > 1 {
			if !retry.SleepWithContext(ctx, s.pageDelay) {
				return out, ctx.Err()
			}
		}

		pageURL := s.pageURL(page)
		html, err := s.renderer.RenderHTML(ctx, pageURL, browser.Wait{Selector: "body"})
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("render listing page: %w", err)
			}
			s.logger.Warn("listing page failed, keeping earlier pages", "source", s.name, "page", page, "error", err)
			break
		}

		listings, hasNext, err := parsePage(html)
		if err != nil {
			return out, fmt.Errorf("parse listing page %d: %w", page, err)
		}
		s.logger.Debug("listing page parsed", "source", s.name, "page", page, "cards", len(listings), "has_next", hasNext)

		for _, l := range listings {
			out = append(out, s.toCandidate(l))
		}
		if !hasNext || len(listings) == 0 {
			break
		}
	}

	s.logger.Info("parks listing fetched", "source", s.name, "candidates", len(out))
	return out, nil
}

func (s *Source) pageURL(page int) string {
	if page == 1 {
		return s.baseURL
	}
	return fmt.Sprintf("%s/page/%d", s.baseURL, page)
}

// parsePage extracts the cards on one listing page and whether a "Next"
// pagination link is present.
func parsePage(html string) ([]listing, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, err
	}

	var listings []listing
	doc.Find(".vevent").Each(func(_ int, el *goquery.Selection) {
		summary := el.Find(".summary").First()
		link := summary.Find("a").First()

		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = strings.TrimSpace(summary.Text())
		}
		if title == "" {
			return
		}

		text := el.Text()
		l := listing{
			Title:    title,
			Href:     strings.TrimSpace(link.AttrOr("href", "")),
			Start:    strings.TrimSpace(el.Find(".dtstart").First().AttrOr("title", "")),
			End:      strings.TrimSpace(el.Find(".dtend").First().AttrOr("title", "")),
			Location: strings.TrimSpace(el.Find(".location").First().Text()),
			Free:     strings.Contains(text, "Free!"),
		}
		if m := categoryRe.FindStringSubmatch(text); m != nil {
			l.Category = strings.TrimSpace(m[1])
		}
		listings = append(listings, l)
	})

	hasNext := false
	doc.Find(".parks_pages a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(a.Text(), "Next") {
			hasNext = true
			return false
		}
		return true
	})

	return listings, hasNext, nil
}

func (s *Source) toCandidate(l listing) domain.RawCandidate {
	c := domain.RawCandidate{
		Source:    s.name,
		Name:      l.Title,
		Location:  l.Location,
		Category:  l.Category,
		SourceURL: s.baseURL,
		EventURL:  resolveURL(s.baseURL, l.Href),
	}
	if c.Location == "" {
		c.Location = s.area.Park
	}

	switch {
	case l.Category != "":
		c.Description = l.Category
	case l.Free:
		c.Description = "Free Event"
	default:
		c.Description = "Event"
	}

	if start, ok := s.parseTimestamp(l.Start); ok {
		c.Date = start.Format("2006-01-02")
		if len(l.Start) > len("2006-01-02") {
			c.StartTime = domain.FormatClock(start)
		}
	}
	if end, ok := s.parseTimestamp(l.End); ok && len(l.End) > len("2006-01-02") {
		c.EndTime = domain.FormatClock(end)
	}
	return c
}

// parseTimestamp reads a title attribute timestamp. Offsets are honoured and
// converted to park time; floating values are taken as park time.
func (s *Source) parseTimestamp(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, v, s.area.Location()); err == nil {
			return t.In(s.area.Location()), true
		}
	}
	return time.Time{}, false
}

// resolveURL makes href absolute against base. Unparseable hrefs are dropped.
func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
