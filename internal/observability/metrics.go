package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "park_events"

// Metrics holds the Prometheus counters, histograms, and gauges for a crawl.
type Metrics struct {
	// Per-source yield. labels: source
	CandidatesFetched *prometheus.CounterVec
	CandidatesKept    *prometheus.CounterVec
	CandidatesDropped *prometheus.CounterVec // labels: source, reason
	SourceErrors      *prometheus.CounterVec
	SourceDuration    *prometheus.HistogramVec

	// Extraction metrics.
	LLMRequests *prometheus.CounterVec // labels: outcome={success,error,empty,unparsed}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward}
	GeocodeEnabled     prometheus.Gauge

	// Run-level metrics.
	StoreSize       prometheus.Gauge
	RunDuration     prometheus.Histogram
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,failure}
	LastSuccess     prometheus.Gauge
	EventsPublished prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		CandidatesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_fetched_total",
			Help:      "Raw candidates returned by each source.",
		}, []string{"source"}),
		CandidatesKept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_kept_total",
			Help:      "Candidates that passed relevance and normalization.",
		}, []string{"source"}),
		CandidatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Candidates discarded, by source and reason.",
		}, []string{"source", "reason"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Source fetches that failed or panicked.",
		}, []string{"source"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Wall time spent fetching one source.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"source"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completion extraction requests by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when the geocoding rescue is enabled, 0 otherwise.",
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_events",
			Help:      "Number of events in the store after the last run.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete crawl run.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Crawl runs by outcome.",
		}, []string{"outcome"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that saved the store.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Changed events written to the event topic.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CandidatesFetched,
		m.CandidatesKept,
		m.CandidatesDropped,
		m.SourceErrors,
		m.SourceDuration,
		m.LLMRequests,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.StoreSize,
		m.RunDuration,
		m.RunsTotal,
		m.LastSuccess,
		m.EventsPublished,
	}
}

// NewMetrics creates and registers all crawler metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

// Gatherer returns a registry holding the given metrics, for pushing one-shot
// run results to a Pushgateway.
func (m *Metrics) Gatherer() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	return reg
}
