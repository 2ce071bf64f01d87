package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cprunner/park-events-etl/internal/domain"
	"github.com/cprunner/park-events-etl/internal/observability"
	"github.com/cprunner/park-events-etl/internal/pipeline"
)

// --- mocks ---

type mockSource struct {
	name       string
	candidates []domain.RawCandidate
	err        error
	panicWith  any
	calls      int
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) Fetch(_ context.Context) ([]domain.RawCandidate, error) {
	m.calls++
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	return m.candidates, m.err
}

type memoryStore struct {
	mu      sync.Mutex
	events  []domain.CanonicalEvent
	saves   int
	loadErr error
	saveErr error
}

func (m *memoryStore) Load(_ context.Context) ([]domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CanonicalEvent(nil), m.events...), m.loadErr
}

func (m *memoryStore) Save(_ context.Context, events []domain.CanonicalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.events = append([]domain.CanonicalEvent(nil), events...)
	return nil
}

type mockPublisher struct {
	published []domain.Change
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, changes []domain.Change) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, changes...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, sources []pipeline.Binding, store pipeline.Store, pub pipeline.Publisher) *pipeline.Pipeline {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	filter := domain.NewFilter(domain.CentralPark(time.UTC), nil, discardLogger())
	return pipeline.New(sources, pipeline.NewTransformer(filter), store, pub, discardLogger(), observability.NewMetricsForTesting())
}

func parksSource() *mockSource {
	return &mockSource{name: "nyc-parks", candidates: []domain.RawCandidate{
		{Source: "nyc-parks", Name: "Fall 5K", Date: "October 12", Location: "Sheep Meadow, Central Park", Description: "Running"},
		{Source: "nyc-parks", Name: "Summer Jazz Concert", Date: "2024-07-04", Location: "Central Park", Description: "Event"},
		{Source: "nyc-parks", Name: "Bird Walk", Date: "2024-07-05", Location: "The Ramble"},
		{Source: "nyc-parks", Name: "Mystery Run", Date: "soon", Location: "Central Park"},
	}}
}

func raceSource() *mockSource {
	return &mockSource{name: "nyrr", candidates: []domain.RawCandidate{
		{Source: "nyrr", Name: "Turkey Trot", Date: "2024-11-28", Location: "Central Park, New York", Description: "NYRR Race"},
	}}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	store := &memoryStore{}
	pub := &mockPublisher{}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: parksSource(), Policy: domain.PolicyRunningOrLarge},
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, pub)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	want := []domain.CanonicalEvent{
		{Name: "Summer Jazz Concert", Date: "2024-07-04", Location: "Central Park", Description: "Event"},
		{Name: "Fall 5K", Date: "2024-10-12", Location: "Sheep Meadow, Central Park", Description: "Running"},
		{Name: "Turkey Trot", Date: "2024-11-28", Location: "Central Park, New York", Description: "NYRR Race"},
	}
	if diff := cmp.Diff(want, store.events); diff != "" {
		t.Errorf("stored events mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, report.Saved)
	assert.Equal(t, 3, report.Stored)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 3, report.Published)
	require.Len(t, report.Sources, 2)
	assert.Equal(t, 4, report.Sources[0].Fetched)
	assert.Equal(t, 2, report.Sources[0].Kept)
	assert.Equal(t, map[string]int{domain.ReasonWalkOnly: 1, "invalid-date": 1}, report.Sources[0].Dropped)
	assert.Len(t, pub.published, 3)
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, report.RunID, p.LastReport().RunID)
}

func TestPipeline_Run_SourceIsolation(t *testing.T) {
	failing := &mockSource{name: "broken", err: errors.New("navigation timeout")}
	panicking := &mockSource{name: "panicky", panicWith: "nil map"}
	store := &memoryStore{}

	p := newTestPipeline(t, []pipeline.Binding{
		{Source: failing, Policy: domain.PolicyNone},
		{Source: panicking, Policy: domain.PolicyNone},
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, nil)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, "Turkey Trot", store.events[0].Name)
	assert.Equal(t, "navigation timeout", report.Sources[0].Error)
	assert.Contains(t, report.Sources[1].Error, "panicked")
	assert.Empty(t, report.Sources[2].Error)
}

func TestPipeline_Run_Idempotent(t *testing.T) {
	store := &memoryStore{}
	bindings := []pipeline.Binding{
		{Source: parksSource(), Policy: domain.PolicyRunningOrLarge},
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}
	p := newTestPipeline(t, bindings, store, nil)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	first := append([]domain.CanonicalEvent(nil), store.events...)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, store.events)
	assert.Zero(t, report.Inserted)
	assert.Zero(t, report.Replaced)
}

func TestPipeline_Run_MonotonicNonLoss(t *testing.T) {
	store := &memoryStore{events: []domain.CanonicalEvent{
		{Name: "Turkey Trot", Date: "2024-11-28", Description: "Annual 5-mile Thanksgiving race"},
		{Name: "Past Event", Date: "2024-01-01", Description: "kept"},
	}}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, nil)

	before := append([]domain.CanonicalEvent(nil), store.events...)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	after := make(map[string]domain.CanonicalEvent, len(store.events))
	for _, e := range store.events {
		after[domain.DedupKey(e)] = e
	}
	for _, e := range before {
		got, ok := after[domain.DedupKey(e)]
		require.True(t, ok, "lost %q", e.Name)
		assert.GreaterOrEqual(t, len([]rune(got.Description)), len([]rune(e.Description)))
	}
	assert.Equal(t, "Past Event", store.events[0].Name)
}

func TestPipeline_Run_LongerDescriptionReplaces(t *testing.T) {
	store := &memoryStore{events: []domain.CanonicalEvent{
		{Name: "Turkey Trot", Date: "2024-11-28"},
	}}
	pub := &mockPublisher{}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, pub)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, "NYRR Race", store.events[0].Description)
	assert.Equal(t, 1, report.Replaced)
	require.Len(t, pub.published, 1)
	assert.Equal(t, domain.ChangeReplaced, pub.published[0].Kind)
}

func TestPipeline_Run_EmptyResultNotSaved(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: &mockSource{name: "empty"}, Policy: domain.PolicyNone},
	}, store, nil)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Saved)
	assert.Zero(t, store.saves)
}

func TestPipeline_Run_SaveFailureIsFatal(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("disk full")}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Nil(t, p.LastReport())
}

func TestPipeline_Run_LoadFailureIsFatal(t *testing.T) {
	store := &memoryStore{loadErr: errors.New("permission denied")}
	src := raceSource()
	p := newTestPipeline(t, []pipeline.Binding{{Source: src, Policy: domain.PolicyLocation}}, store, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, src.calls)
}

func TestPipeline_Run_PublishFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{}
	pub := &mockPublisher{err: errors.New("broker down")}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, pub)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Saved)
	assert.Zero(t, report.Published)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	store := &memoryStore{}
	src := raceSource()
	p := newTestPipeline(t, []pipeline.Binding{{Source: src, Policy: domain.PolicyLocation}}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
	assert.Zero(t, store.saves)
}

func TestPipeline_CheckReadiness_BeforeRun(t *testing.T) {
	p := newTestPipeline(t, nil, &memoryStore{}, nil)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_SetSources(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(t, []pipeline.Binding{
		{Source: raceSource(), Policy: domain.PolicyLocation},
	}, store, nil)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.events, 1)

	p.SetSources([]pipeline.Binding{
		{Source: parksSource(), Policy: domain.PolicyRunningOrLarge},
	})
	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Sources, 1)
	assert.Equal(t, "nyc-parks", report.Sources[0].Name)
	assert.Len(t, store.events, 3)
}

func TestFanout_Publish(t *testing.T) {
	ok := &mockPublisher{}
	failing := &mockPublisher{err: errors.New("broker down")}
	alsoOK := &mockPublisher{}

	changes := []domain.Change{{Kind: domain.ChangeInserted, Event: domain.CanonicalEvent{Name: "Fall 5K", Date: "2024-10-12"}}}
	err := pipeline.Fanout{ok, failing, alsoOK}.Publish(context.Background(), changes)

	require.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.published, 1)
	assert.Len(t, alsoOK.published, 1)
	assert.NoError(t, pipeline.Fanout{}.Publish(context.Background(), changes))
}
