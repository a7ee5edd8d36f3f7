// Package metrics exposes pipeline counters for upstream traffic, match
// ingestion and profile refreshes. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

const (
	namespace = "rivals"

	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
)

type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests  *prometheus.CounterVec
	upstreamRetries   *prometheus.CounterVec
	upstreamExhausted *prometheus.CounterVec
	syncPages         prometheus.Counter
	matchesInserted   prometheus.Counter
	partialSyncs      prometheus.Counter
	refreshDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream API attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Upstream attempts beyond the first, by endpoint.",
		}, []string{"endpoint"}),
		upstreamExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "exhausted_total",
			Help:      "Upstream calls that failed on every attempt, by endpoint.",
		}, []string{"endpoint"}),
		syncPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pages_total",
			Help:      "Match history pages fetched and persisted.",
		}),
		matchesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "matches_inserted_total",
			Help:      "Match rows newly written; duplicates are not counted.",
		}),
		partialSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "partial_total",
			Help:      "Syncs stopped early after repeated page failures.",
		}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of profile refreshes by result.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.upstreamRequests,
		m.upstreamRetries,
		m.upstreamExhausted,
		m.syncPages,
		m.matchesInserted,
		m.partialSyncs,
		m.refreshDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) UpstreamAttempt(endpoint, outcome string, attempt int) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	if attempt > 1 {
		m.upstreamRetries.WithLabelValues(endpoint).Inc()
	}
}

// UpstreamExhausted records a call that gave up after its last retry.
func (m *Metrics) UpstreamExhausted(endpoint string) {
	if m == nil {
		return
	}
	m.upstreamExhausted.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SyncPage(inserted int) {
	if m == nil {
		return
	}
	m.syncPages.Inc()
	m.matchesInserted.Add(float64(inserted))
}

func (m *Metrics) PartialSync() {
	if m == nil {
		return
	}
	m.partialSyncs.Inc()
}

func (m *Metrics) Refresh(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

var Module = fx.Provide(New)
