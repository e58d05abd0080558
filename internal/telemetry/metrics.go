package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors recorded by the retrieval core. A nil
// *Metrics is valid and records nothing, which keeps tests and one-shot
// commands free of registry plumbing.
type Metrics struct {
	Registry *prometheus.Registry

	searches         *prometheus.CounterVec
	searchLatency    prometheus.Histogram
	searchResults    prometheus.Histogram
	dedupDropped     prometheus.Counter
	lexicalFallbacks prometheus.Counter

	indexEntries    prometheus.Gauge
	indexRebuilds   *prometheus.CounterVec
	rebuildDuration prometheus.Histogram

	embedCalls *prometheus.CounterVec

	completions       *prometheus.CounterVec
	completionLatency prometheus.Histogram

	sessionsActive prometheus.Gauge
	sessionsReaped prometheus.Counter

	articlesIngested *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "searches_total",
			Help: "Search requests by outcome.",
		}, []string{"outcome"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsrag", Name: "search_duration_seconds",
			Help:    "End-to-end search latency including query embedding.",
			Buckets: prometheus.DefBuckets,
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsrag", Name: "search_results",
			Help:    "Results returned per search.",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		}),
		dedupDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "search_duplicates_dropped_total",
			Help: "Candidates collapsed because they shared a URL with a better hit.",
		}),
		lexicalFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "search_lexical_fallbacks_total",
			Help: "Searches answered from the lexical index because the query had no embedding signal.",
		}),
		indexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsrag", Name: "index_entries",
			Help: "Vectors in the live index snapshot.",
		}),
		indexRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "index_rebuilds_total",
			Help: "Full index rebuilds by outcome.",
		}, []string{"outcome"}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsrag", Name: "index_rebuild_duration_seconds",
			Help:    "Wall time of full index rebuilds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		embedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "embedding_calls_total",
			Help: "Embedding requests by outcome.",
		}, []string{"outcome"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "completions_total",
			Help: "Completion gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsrag", Name: "completion_duration_seconds",
			Help:    "Completion gateway latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsrag", Name: "sessions_active",
			Help: "Sessions seen by the last reaper pass.",
		}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "sessions_reaped_total",
			Help: "Sessions expired by the reaper.",
		}),
		articlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrag", Name: "articles_ingested_total",
			Help: "Article records processed by ingestion path and outcome.",
		}, []string{"path", "outcome"}),
	}
	reg.MustRegister(
		m.searches, m.searchLatency, m.searchResults, m.dedupDropped, m.lexicalFallbacks,
		m.indexEntries, m.indexRebuilds, m.rebuildDuration,
		m.embedCalls, m.completions, m.completionLatency,
		m.sessionsActive, m.sessionsReaped, m.articlesIngested,
	)
	return m
}

func (m *Metrics) ObserveSearch(outcome string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchLatency.Observe(d.Seconds())
	if outcome == "ok" {
		m.searchResults.Observe(float64(results))
	}
}

func (m *Metrics) DuplicatesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupDropped.Add(float64(n))
}

func (m *Metrics) LexicalFallback() {
	if m == nil {
		return
	}
	m.lexicalFallbacks.Inc()
}

func (m *Metrics) SetIndexEntries(n int) {
	if m == nil {
		return
	}
	m.indexEntries.Set(float64(n))
}

func (m *Metrics) ObserveRebuild(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.indexRebuilds.WithLabelValues(outcome).Inc()
	m.rebuildDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveEmbed(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embedCalls.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveCompletion(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(operation, outcome).Inc()
	m.completionLatency.Observe(d.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) SessionsReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsReaped.Add(float64(n))
}

func (m *Metrics) ObserveIngest(path, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.articlesIngested.WithLabelValues(path, outcome).Add(float64(n))
}
