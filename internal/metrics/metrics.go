// Package metrics provides Prometheus collectors for cinesync.
//
// Collectors hang off a Metrics value bound to a registerer so each process
// (or test) owns its own set. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cinesync"

// Metrics groups the collectors shared by the gateway, merge engine, and workflows.
type Metrics struct {
	// GatewayRequests counts provider calls by endpoint and outcome
	GatewayRequests *prometheus.CounterVec
	// GatewayLatency tracks provider call latency in seconds
	GatewayLatency *prometheus.HistogramVec
	// GatewayRetries counts retry attempts by endpoint
	GatewayRetries *prometheus.CounterVec
	// BreakerState reports 0 closed, 1 half-open, 2 open
	BreakerState prometheus.Gauge
	// CacheLookups counts response cache hits and misses
	CacheLookups *prometheus.CounterVec
	// RecordsProcessed counts records by mode and outcome
	RecordsProcessed *prometheus.CounterVec
	// WorkflowRuns counts workflow runs by mode and status
	WorkflowRuns *prometheus.CounterVec
	// WorkflowDuration tracks workflow duration in seconds
	WorkflowDuration *prometheus.HistogramVec
	// CursorPosition reports each mode's cursor as a unix timestamp
	CursorPosition *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of provider requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Duration of provider requests in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		GatewayRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Total number of provider request retries",
			},
			[]string{"endpoint"},
		),
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total number of response cache lookups by result",
			},
			[]string{"result"},
		),
		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "records_total",
				Help:      "Total number of records processed by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		WorkflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "runs_total",
				Help:      "Total number of workflow runs by mode and status",
			},
			[]string{"mode", "status"},
		),
		WorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400},
			},
			[]string{"mode"},
		),
		CursorPosition: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "cursor_timestamp_seconds",
				Help:      "Cursor position per mode as a unix timestamp",
			},
			[]string{"mode"},
		),
	}
}

// ObserveRequest records one provider attempt.
func (m *Metrics) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	m.GatewayLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Retry records a retry of endpoint.
func (m *Metrics) Retry(endpoint string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(endpoint).Inc()
}

// SetBreakerState publishes the breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Record counts one record outcome for mode.
func (m *Metrics) Record(mode, outcome string) {
	if m == nil {
		return
	}
	m.RecordsProcessed.WithLabelValues(mode, outcome).Inc()
}

// WorkflowDone records a finished workflow run.
func (m *Metrics) WorkflowDone(mode, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(mode, status).Inc()
	m.WorkflowDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// SetCursor publishes the cursor position for mode.
func (m *Metrics) SetCursor(mode string, position time.Time) {
	if m == nil || position.IsZero() {
		return
	}
	m.CursorPosition.WithLabelValues(mode).Set(float64(position.Unix()))
}
