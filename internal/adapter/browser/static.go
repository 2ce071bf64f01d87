package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticFetcher fetches server-rendered pages over plain HTTP. It has the
// same RenderHTML signature as Browser so sources can use either.
type StaticFetcher struct {
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewStaticFetcher creates a StaticFetcher.
func NewStaticFetcher(userAgent string, timeout time.Duration, logger *slog.Logger) *StaticFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StaticFetcher{userAgent: userAgent, timeout: timeout, logger: logger}
}

// RenderHTML fetches url and returns the response body. The wait argument is
// ignored: nothing runs client-side.
func (f *StaticFetcher) RenderHTML(ctx context.Context, url string, _ Wait) (string, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(f.timeout)

	var (
		body     string
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("static fetch %s: status %d: %w", url, r.StatusCode, err)
	})

	start := time.Now()
	if err := c.Visit(url); err != nil {
		if fetchErr != nil {
			return "", fetchErr
		}
		return "", fmt.Errorf("static fetch %s: %w", url, err)
	}
	if fetchErr != nil {
		return "", fetchErr
	}
	f.logger.Debug("page fetched", "url", url, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}
