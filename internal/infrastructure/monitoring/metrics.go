package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the kernel and its gateway.
// Each instance owns its registry so multiple kernels can coexist in one
// process (tests, embedded use).
type Metrics struct {
	registry *prometheus.Registry

	// Syscall metrics
	SyscallsTotal   *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec

	// Signal core metrics
	SignalRaises prometheus.Counter
	WaiterWakes  *prometheus.CounterVec

	// Channel metrics
	TransactionsPending prometheus.Gauge
	TransactionDuration prometheus.Histogram

	// HTTP gateway metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSWatchers prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		SyscallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_syscalls_total",
				Help: "Total number of syscalls by type and result code",
			},
			[]string{"syscall", "code"},
		),
		SyscallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_syscall_duration_seconds",
				Help:    "Syscall duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"syscall"},
		),

		SignalRaises: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_signal_raises_total",
				Help: "Total number of merge mutations on signal state",
			},
		),
		WaiterWakes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_waiter_wakes_total",
				Help: "Total number of wait completions by cause",
			},
			[]string{"cause"},
		),

		TransactionsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_transactions_pending",
				Help: "Number of channel transactions currently pending",
			},
		),
		TransactionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kernel_transaction_duration_seconds",
				Help:    "Channel transaction duration in seconds",
				Buckets: []float64{.0001, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WSWatchers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_ws_watchers",
				Help: "Number of active WebSocket signal watchers",
			},
		),
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSyscall records one syscall invocation.
func (m *Metrics) RecordSyscall(name, code string, duration time.Duration) {
	m.SyscallsTotal.WithLabelValues(name, code).Inc()
	m.SyscallDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordWake records one wait completion.
func (m *Metrics) RecordWake(cause string) {
	m.WaiterWakes.WithLabelValues(cause).Inc()
}

// RecordHTTPRequest records one gateway request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Uptime returns time since metrics creation.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
