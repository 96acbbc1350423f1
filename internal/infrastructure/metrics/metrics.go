// Package metrics exposes operational counters for the traffic runner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus metric names.
const (
	MetricEvaluationsTotal   = "releaseguard_evaluations_total"
	MetricMetricEventsTotal  = "releaseguard_metric_events_total"
	MetricRolloutChecksTotal = "releaseguard_rollout_checks_total"
	MetricActiveSessions     = "releaseguard_active_sessions"
)

// Rollout check outcome labels.
const (
	RolloutCheckActive   = "active"
	RolloutCheckInactive = "inactive"
	RolloutCheckError    = "error"
)

// Metric event kind labels.
const (
	EventKindError    = "error"
	EventKindBusiness = "business"
	EventKindLatency  = "latency"
)

// Metrics collects operational counters across all sessions. One instance
// is shared by the whole process and scraped from the main HTTP server.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Metrics struct {
	// Own registry to avoid conflicts with default process metrics
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	metricEventsTotal  *prometheus.CounterVec
	rolloutChecksTotal *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

// New creates the process-wide metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "releaseguard",
			Name:      "evaluations_total",
			Help:      "Total number of flag evaluations performed by all sessions.",
		},
		[]string{"variant", "in_experiment"},
	)

	m.metricEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "releaseguard",
			Name:      "metric_events_total",
			Help:      "Total number of metric events delivered to the flag platform.",
		},
		[]string{"kind", "variant"},
	)

	m.rolloutChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "releaseguard",
			Name:      "rollout_checks_total",
			Help:      "Total number of guarded rollout checks, by outcome.",
		},
		[]string{"outcome"},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "releaseguard",
			Name:      "active_sessions",
			Help:      "Number of sessions with a running simulation loop.",
		},
	)

	m.registry.MustRegister(
		m.evaluationsTotal,
		m.metricEventsTotal,
		m.rolloutChecksTotal,
		m.activeSessions,
	)
}

// Handler returns the scrape handler for the main HTTP server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordEvaluation records one flag evaluation.
func (m *Metrics) RecordEvaluation(variant string, inExperiment bool) {
	inExperimentLabel := "false"
	if inExperiment {
		inExperimentLabel = "true"
	}
	m.evaluationsTotal.WithLabelValues(variant, inExperimentLabel).Inc()
}

// RecordMetricEvent records one delivered metric event.
func (m *Metrics) RecordMetricEvent(kind, variant string) {
	m.metricEventsTotal.WithLabelValues(kind, variant).Inc()
}

// RecordRolloutCheck records one guarded rollout check outcome.
func (m *Metrics) RecordRolloutCheck(outcome string) {
	m.rolloutChecksTotal.WithLabelValues(outcome).Inc()
}

// SessionStarted increments the running session gauge.
func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
}

// SessionStopped decrements the running session gauge.
func (m *Metrics) SessionStopped() {
	m.activeSessions.Dec()
}

// Gather collects all metrics from the registry (for testing).
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}
