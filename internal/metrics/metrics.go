// Package metrics exposes Prometheus instrumentation for the safety engine.
//
// Every recording method is safe on a nil *EngineMetrics, so components can be
// built without metrics in tests and embedders.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rx-safety-engine/internal/domain"
)

// EngineMetrics tracks evaluation, snapshot, cache and HTTP metrics.
//
// Metrics:
//   - <ns>_<sub>_evaluations_total: safety evaluations by outcome
//   - <ns>_<sub>_component_duration_seconds: time spent per component
//   - <ns>_<sub>_diagnostics_total: skipped or degraded input items per component
//   - <ns>_<sub>_mme_total: distribution of computed daily MME totals
//   - <ns>_<sub>_suggestions_total: alternative suggestions emitted
//   - <ns>_<sub>_rule_reloads_total: rule table reloads by result
//   - <ns>_<sub>_snapshot_rebuilds_total: snapshot rebuilds by result
//   - <ns>_<sub>_snapshot_interactions: interactions in the active snapshot
//   - <ns>_<sub>_cache_requests_total: cache lookups by cache and result
//   - <ns>_<sub>_http_requests_total and _http_request_duration_seconds
type EngineMetrics struct {
	evaluations          *prometheus.CounterVec
	componentDuration    *prometheus.HistogramVec
	diagnostics          *prometheus.CounterVec
	mmeTotal             prometheus.Histogram
	suggestions          prometheus.Counter
	ruleReloads          *prometheus.CounterVec
	snapshotRebuilds     *prometheus.CounterVec
	snapshotInteractions prometheus.Gauge
	cacheRequests        *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// NewEngineMetrics creates and registers engine metrics with the provided registry.
func NewEngineMetrics(cfg domain.MetricsConfig, registry *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Safety evaluations by outcome",
			},
			[]string{"outcome"},
		),

		componentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "component_duration_seconds",
				Help:      "Time spent in each rule component",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"component"},
		),

		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "diagnostics_total",
				Help:      "Input items skipped or degraded, by component",
			},
			[]string{"component"},
		),

		mmeTotal: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "mme_total",
				Help:      "Computed cumulative daily morphine milligram equivalents",
				Buckets:   []float64{0, 20, 50, 90, 120, 200, 400},
			},
		),

		suggestions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "suggestions_total",
				Help:      "Alternative suggestions emitted by the interaction matcher",
			},
		),

		ruleReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_reloads_total",
				Help:      "Rule table reloads by result",
			},
			[]string{"result"},
		),

		snapshotRebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "snapshot_rebuilds_total",
				Help:      "Interaction snapshot rebuilds by result",
			},
			[]string{"result"},
		),

		snapshotInteractions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "snapshot_interactions",
				Help:      "Normalized interactions in the active snapshot",
			},
		),

		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_requests_total",
				Help:      "Cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.evaluations,
		m.componentDuration,
		m.diagnostics,
		m.mmeTotal,
		m.suggestions,
		m.ruleReloads,
		m.snapshotRebuilds,
		m.snapshotInteractions,
		m.cacheRequests,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// RecordEvaluation counts one safety evaluation.
func (m *EngineMetrics) RecordEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// ObserveComponent records how long a component took.
func (m *EngineMetrics) ObserveComponent(component string, d time.Duration) {
	if m == nil {
		return
	}
	m.componentDuration.WithLabelValues(component).Observe(d.Seconds())
}

// RecordDiagnostics adds n diagnostics for a component.
func (m *EngineMetrics) RecordDiagnostics(component string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.diagnostics.WithLabelValues(component).Add(float64(n))
}

// ObserveMME records a computed MME total.
func (m *EngineMetrics) ObserveMME(total float64) {
	if m == nil {
		return
	}
	m.mmeTotal.Observe(total)
}

// RecordSuggestions adds n emitted alternative suggestions.
func (m *EngineMetrics) RecordSuggestions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.suggestions.Add(float64(n))
}

// RecordRuleReload counts a rule reload attempt.
func (m *EngineMetrics) RecordRuleReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ruleReloads.WithLabelValues(result).Inc()
}

// RecordSnapshotRebuild counts a rebuild and, on success, sets the interaction gauge.
func (m *EngineMetrics) RecordSnapshotRebuild(result string, interactions int) {
	if m == nil {
		return
	}
	m.snapshotRebuilds.WithLabelValues(result).Inc()
	if result == "success" {
		m.snapshotInteractions.Set(float64(interactions))
	}
}

// RecordCache counts a cache lookup. result is "hit", "miss" or "error".
func (m *EngineMetrics) RecordCache(cache, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordHTTP records one served HTTP request.
func (m *EngineMetrics) RecordHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
