// Package metrics provides Prometheus metrics collection for LLMGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for LLMGate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Admission metrics
	AdmissionDenials *prometheus.CounterVec
	TrackedSubjects  prometheus.Gauge

	// Token metrics
	TokensUsed      *prometheus.CounterVec
	TokensRemaining *prometheus.GaugeVec

	// Upstream metrics
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	UpstreamInFlight prometheus.Gauge
	StreamChunks     prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		// Request metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"endpoint", "status", "subject"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "llmgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "llmgate",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		// Auth metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),

		// Admission metrics
		AdmissionDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "admission_denials_total",
				Help:      "Total number of requests denied by rate or quota limits",
			},
			[]string{"scope"},
		),
		TrackedSubjects: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "llmgate",
				Name:      "tracked_subjects",
				Help:      "Number of subjects with live admission state",
			},
		),

		// Token metrics
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "tokens_used_total",
				Help:      "Total tokens consumed against the daily budget",
			},
			[]string{"subject", "endpoint"},
		),
		TokensRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "llmgate",
				Name:      "tokens_remaining",
				Help:      "Tokens left in the subject's daily budget",
			},
			[]string{"subject"},
		),

		// Upstream metrics
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "llmgate",
				Name:      "upstream_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint", "status"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream errors",
			},
			[]string{"type"},
		),
		UpstreamInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "llmgate",
				Name:      "upstream_requests_in_flight",
				Help:      "Number of requests currently being sent to upstream",
			},
		),
		StreamChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "stream_chunks_total",
				Help:      "Total number of streamed chunks delivered to clients",
			},
		),

		// Config metrics
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "llmgate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// StatusClass collapses an HTTP status code into its class label,
// e.g. 204 -> "2xx". Keeps label cardinality flat.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "1xx"
}
