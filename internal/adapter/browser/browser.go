// Package browser renders pages for the scraping adapters, either through a
// shared headless Chrome instance or, for pages that need no JavaScript,
// through a plain HTTP collector.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a desktop Chrome UA; several event sites serve a
// stripped page to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// ErrClosed is returned when rendering with a closed Browser.
var ErrClosed = errors.New("browser: closed")

// Wait controls when a page counts as rendered.
type Wait struct {
	// Selector must be ready before the page is read. Defaults to "body".
	Selector string
	// Settle is an extra pause for client-side rendering after Selector is ready.
	Settle time.Duration
}

// Options configures the headless browser.
type Options struct {
	ExecPath   string // empty uses chromedp's lookup
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
}

// Browser is a lazily started headless Chrome shared by all sources of a
// run. Each render opens its own tab; tabs are used one at a time.
type Browser struct {
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New creates a Browser. Chrome is not launched until the first render.
func New(opts Options, logger *slog.Logger) *Browser {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	return &Browser{opts: opts, logger: logger}
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(b.opts.UserAgent),
	)
	if b.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.opts.ExecPath))
	}
	return opts
}

// ensure starts Chrome on first use and returns the browser context.
func (b *Browser) ensure() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}

	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Info("headless browser started", "headless", b.opts.Headless)
	return browserCtx, nil
}

// run opens a tab, navigates to url, waits, then runs action. The tab is
// bounded by the navigation timeout plus the settle delay, and is torn down
// early if ctx is cancelled.
func (b *Browser) run(ctx context.Context, url string, wait Wait, action chromedp.Action) error {
	parent, err := b.ensure()
	if err != nil {
		return err
	}

	tabCtx, cancelTab := chromedp.NewContext(parent)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.NavTimeout+wait.Settle)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	selector := wait.Selector
	if selector == "" {
		selector = "body"
	}

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady(selector, chromedp.ByQuery),
	}
	if wait.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(wait.Settle))
	}
	tasks = append(tasks, action)

	start := time.Now()
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("browser: render %s: %w", url, err)
	}
	b.logger.Debug("page rendered", "url", url, "duration", time.Since(start))
	return nil
}

// RenderHTML returns the page's outer HTML after client-side rendering.
func (b *Browser) RenderHTML(ctx context.Context, url string, wait Wait) (string, error) {
	var html string
	if err := b.run(ctx, url, wait, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Evaluate renders url and evaluates script in the page, decoding the
// JSON-serializable result into out.
func (b *Browser) Evaluate(ctx context.Context, url string, wait Wait, script string, out any) error {
	return b.run(ctx, url, wait, chromedp.Evaluate(script, out))
}

// Release shuts Chrome down between runs; the next render relaunches it.
func (b *Browser) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown()
}

// Close shuts Chrome down for good. It is safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.shutdown()
}

func (b *Browser) shutdown() error {
	if b.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("browser: close: %w", err)
	}
	b.logger.Info("headless browser stopped")
	return nil
}
