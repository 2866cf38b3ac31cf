// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcp_bridge"

// Exchange outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeWriteError  = "write_error"
	OutcomeReadError   = "read_error"
	OutcomeDecodeError = "decode_error"
	OutcomeTimeout     = "timeout"
	OutcomeTerminated  = "terminated"
	OutcomeError       = "error"
)

// Rejection reasons used as the "reason" label.
const (
	ReasonInvalidJSON = "invalid_json"
	ReasonTooLarge    = "too_large"
	ReasonRateLimited = "rate_limited"
)

// Metrics contains all bridge metrics and the registry they are exposed from.
type Metrics struct {
	registry *prometheus.Registry

	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	RejectedTotal    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	BackendUp        prometheus.Gauge
	BackendRestarts  prometheus.Counter
}

// New creates the bridge metrics on a private registry, together with the
// standard Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "total",
				Help:      "Total number of backend exchanges by outcome",
			},
			[]string{"outcome"},
		),

		ExchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "duration_seconds",
				Help:      "Time spent inside the gate per backend exchange",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rejected_total",
				Help:      "Requests rejected before reaching the backend",
			},
			[]string{"reason"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests served by path and status code",
			},
			[]string{"path", "code"},
		),

		BackendUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "up",
				Help:      "Backend process status (0=down, 1=running)",
			},
		),

		BackendRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "restarts_total",
				Help:      "Backend replacements after unresponsive exchanges",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ExchangesTotal,
		m.ExchangeDuration,
		m.RejectedTotal,
		m.HTTPRequests,
		m.BackendUp,
		m.BackendRestarts,
	)

	return m
}

// RegisterGateWaiters exposes the number of callers queued for the backend.
func (m *Metrics) RegisterGateWaiters(waiting func() int64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "waiting",
			Help:      "Callers waiting for exclusive access to the backend",
		},
		func() float64 { return float64(waiting()) },
	))
}

// Registry returns the registry holding the bridge metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordExchange counts one exchange and observes how long it held the gate.
func (m *Metrics) RecordExchange(outcome string, duration time.Duration) {
	m.ExchangesTotal.WithLabelValues(outcome).Inc()
	m.ExchangeDuration.Observe(duration.Seconds())
}

// RecordRejected counts a request refused before it reached the backend.
func (m *Metrics) RecordRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest counts a served HTTP request.
func (m *Metrics) RecordHTTPRequest(path string, code int) {
	if code == 0 {
		code = http.StatusOK
	}

	m.HTTPRequests.WithLabelValues(path, strconv.Itoa(code)).Inc()
}

// RecordBackendStatus updates the backend status gauge.
func (m *Metrics) RecordBackendStatus(running bool) {
	value := 0.0
	if running {
		value = 1.0
	}

	m.BackendUp.Set(value)
}

// RecordBackendRestart increments the backend replacement counter.
func (m *Metrics) RecordBackendRestart() {
	m.BackendRestarts.Inc()
}
