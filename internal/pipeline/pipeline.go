package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cprunner/park-events-etl/internal/domain"
	"github.com/cprunner/park-events-etl/internal/observability"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a crawl run is already in progress")

// Source retrieves raw candidates from one upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.RawCandidate, error)
}

// Binding pairs a source with the relevance policy applied to its candidates.
type Binding struct {
	Source Source
	Policy domain.Policy
}

// Transformer turns a candidate into a canonical event, or reports why it was dropped.
type Transformer interface {
	Transform(ctx context.Context, policy domain.Policy, c domain.RawCandidate) (domain.CanonicalEvent, string, error)
}

// Store persists the canonical event set.
type Store interface {
	Load(ctx context.Context) ([]domain.CanonicalEvent, error)
	Save(ctx context.Context, events []domain.CanonicalEvent) error
}

// Publisher announces store changes downstream.
type Publisher interface {
	Publish(ctx context.Context, changes []domain.Change) error
}

// SourceReport is the yield of one source in one run.
type SourceReport struct {
	Name     string         `json:"name"`
	Fetched  int            `json:"fetched"`
	Kept     int            `json:"kept"`
	Dropped  map[string]int `json:"dropped,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Report summarizes a completed run.
type Report struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Existing  int            `json:"existing"`
	Stored    int            `json:"stored"`
	Inserted  int            `json:"inserted"`
	Replaced  int            `json:"replaced"`
	Published int            `json:"published"`
	Saved     bool           `json:"saved"`
	Sources   []SourceReport `json:"sources"`
}

// Pipeline runs one crawl: load the store, fetch every source in turn,
// filter and canonicalize, merge, save, publish.
type Pipeline struct {
	sources     []Binding
	transformer Transformer
	store       Store
	publisher   Publisher
	logger      *slog.Logger
	metrics     *observability.Metrics

	running atomic.Bool
	ready   atomic.Bool

	mu   sync.Mutex
	last *Report
}

// SetSources replaces the source list. A run in progress keeps the list it
// started with.
func (p *Pipeline) SetSources(sources []Binding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = sources
}

// Sources returns the current source list.
func (p *Pipeline) Sources() []Binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources
}

// New creates a Pipeline. Pass a nil publisher to disable change publishing.
func New(sources []Binding, t Transformer, store Store, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		sources:     sources,
		transformer: t,
		store:       store,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no crawl run has completed yet")
	}
	return nil
}

// LastReport returns the report of the most recent successful run, or nil.
func (p *Pipeline) LastReport() *Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

// Run executes one crawl. Source failures only reduce the yield; an error is
// returned when the store cannot be read or written, or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	report := &Report{RunID: uuid.NewString(), StartedAt: start}
	logger := p.logger.With("run_id", report.RunID)
	sources := p.Sources()
	logger.Info("crawl started", "sources", len(sources))

	err := p.run(ctx, logger, sources, report)
	report.Duration = time.Since(start)
	p.metrics.RunDuration.Observe(report.Duration.Seconds())

	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("failure").Inc()
		logger.Error("crawl failed", "error", err, "duration", report.Duration)
		return report, err
	}

	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.metrics.LastSuccess.SetToCurrentTime()
	p.ready.Store(true)
	p.mu.Lock()
	p.last = report
	p.mu.Unlock()

	logger.Info("crawl finished",
		"stored", report.Stored,
		"inserted", report.Inserted,
		"replaced", report.Replaced,
		"saved", report.Saved,
		"duration", report.Duration,
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, sources []Binding, report *Report) error {
	existing, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	report.Existing = len(existing)
	logger.Info("store loaded", "events", len(existing))

	var incoming []domain.CanonicalEvent
	for _, b := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, sr := p.processSource(ctx, logger, b)
		report.Sources = append(report.Sources, sr)
		incoming = append(incoming, events...)
	}

	merged := domain.Merge(existing, incoming)
	domain.SortByDate(merged)
	report.Stored = len(merged)

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(merged) == 0 {
		logger.Warn("no events collected, store left untouched")
		return nil
	}

	if err := p.store.Save(ctx, merged); err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	report.Saved = true
	p.metrics.StoreSize.Set(float64(len(merged)))

	changes := domain.Changes(existing, merged)
	for _, c := range changes {
		if c.Kind == domain.ChangeInserted {
			report.Inserted++
		} else {
			report.Replaced++
		}
	}

	p.publish(ctx, logger, changes, report)
	return nil
}

// processSource fetches one source and runs its candidates through the
// transformer. It never fails: errors and panics become an empty yield.
func (p *Pipeline) processSource(ctx context.Context, logger *slog.Logger, b Binding) ([]domain.CanonicalEvent, SourceReport) {
	name := b.Source.Name()
	sr := SourceReport{Name: name, Dropped: map[string]int{}}
	logger = logger.With("source", name)

	start := time.Now()
	candidates, err := fetchSafely(ctx, b.Source)
	sr.Duration = time.Since(start)
	p.metrics.SourceDuration.WithLabelValues(name).Observe(sr.Duration.Seconds())

	if err != nil {
		sr.Error = err.Error()
		p.metrics.SourceErrors.WithLabelValues(name).Inc()
		logger.Error("source fetch failed, continuing without it", "error", err, "duration", sr.Duration)
		return nil, sr
	}

	sr.Fetched = len(candidates)
	p.metrics.CandidatesFetched.WithLabelValues(name).Add(float64(len(candidates)))

	events := make([]domain.CanonicalEvent, 0, len(candidates))
	for _, c := range candidates {
		event, reason, err := p.transformer.Transform(ctx, b.Policy, c)
		if err != nil || reason != "" {
			if reason == "" {
				reason = dropReason(err)
			}
			sr.Dropped[reason]++
			p.metrics.CandidatesDropped.WithLabelValues(name, reason).Inc()
			logger.Debug("candidate dropped", "name", c.Name, "date", c.Date, "reason", reason, "error", err)
			continue
		}
		events = append(events, event)
	}

	sr.Kept = len(events)
	p.metrics.CandidatesKept.WithLabelValues(name).Add(float64(len(events)))
	logger.Info("source processed",
		"fetched", sr.Fetched,
		"kept", sr.Kept,
		"dropped", sr.Dropped,
		"duration", sr.Duration,
	)
	return events, sr
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, changes []domain.Change, report *Report) {
	if p.publisher == nil || len(changes) == 0 {
		return
	}
	if err := p.publisher.Publish(ctx, changes); err != nil {
		logger.Warn("publish changes failed", "error", err, "changes", len(changes))
		return
	}
	report.Published = len(changes)
	p.metrics.EventsPublished.Add(float64(len(changes)))
}

// fetchSafely converts a panicking source into an error.
func fetchSafely(ctx context.Context, s Source) (candidates []domain.RawCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidates = nil
			err = fmt.Errorf("source %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Fetch(ctx)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingName):
		return "missing-name"
	case errors.Is(err, domain.ErrInvalidDate):
		return "invalid-date"
	default:
		return "transform-error"
	}
}
