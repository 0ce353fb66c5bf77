package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the broker's Prometheus sink: the logs_total{level} counter
// spec.md §6 requires, dispatch outcome counters/histograms, a live-session
// gauge, and the default Go/process collectors, grounded in
// stahp-god-Scale-MMO-butt/login-gateway's startMetrics().
type Metrics struct {
	registry *prometheus.Registry

	logsTotal        *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	sessionsActive   prometheus.Gauge
}

// NewMetrics constructs a Metrics with its own registry (rather than the
// global default, so tests can spin up independent instances) and
// registers the default process/Go collectors alongside it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		logsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logs_total",
			Help: "Total log lines emitted, by level.",
		}, []string{"level"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total REST dispatch outcomes, by operation and HTTP status.",
		}, []string{"op", "status"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_request_duration_seconds",
			Help:    "Dispatch round-trip latency (HTTP in to HTTP out), by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of currently registered world sessions.",
		}),
	}

	reg.MustRegister(
		m.logsTotal,
		m.dispatchTotal,
		m.dispatchDuration,
		m.sessionsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// IncLog satisfies the Logger's counter dependency.
func (m *Metrics) IncLog(level string) {
	m.logsTotal.WithLabelValues(level).Inc()
}

// ObserveDispatch satisfies internal/dispatch.MetricsSink.
func (m *Metrics) ObserveDispatch(op, status string, d time.Duration) {
	m.dispatchTotal.WithLabelValues(op, status).Inc()
	m.dispatchDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetSessionsActive records the registry's current live-session count.
func (m *Metrics) SetSessionsActive(n int) {
	m.sessionsActive.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
