package telemetry

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the collection of Prometheus metrics for the session service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GoroutinesCount     prometheus.Gauge

	SessionsCreated    *prometheus.CounterVec
	SessionsDeleted    *prometheus.CounterVec
	SessionsActive     prometheus.Gauge
	CommandDuration    *prometheus.HistogramVec
	CommandsRejected   prometheus.Counter
	GatewayConnections prometheus.Gauge
	StreamBytesOut     prometheus.Counter
	ReaperSweeps       prometheus.Counter
	ReaperDeleted      prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.GoroutinesCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "go_goroutines",
			Help: "Number of active goroutines",
		},
	)

	m.SessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamgui_sessions_created_total",
			Help: "Sessions created, labelled by backend kind and outcome",
		},
		[]string{"backend", "outcome"},
	)

	m.SessionsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamgui_sessions_deleted_total",
			Help: "Sessions deleted, labelled by initiator",
		},
		[]string{"initiator"},
	)

	m.SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamgui_sessions_active",
			Help: "Sessions currently in Active state",
		},
	)

	m.CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamgui_command_duration_seconds",
			Help:    "Duration of one-shot command executions",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	m.CommandsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamgui_commands_rejected_total",
			Help: "Commands vetoed by the sanitizer",
		},
	)

	m.GatewayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamgui_gateway_connections",
			Help: "Websocket connections currently attached",
		},
	)

	m.StreamBytesOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamgui_stream_bytes_out_total",
			Help: "Terminal bytes broadcast to clients",
		},
	)

	m.ReaperSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamgui_reaper_sweeps_total",
			Help: "Idle-session reaper sweep runs",
		},
	)

	m.ReaperDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamgui_reaper_deleted_total",
			Help: "Sessions deleted by the reaper",
		},
	)

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GoroutinesCount,
		m.SessionsCreated,
		m.SessionsDeleted,
		m.SessionsActive,
		m.CommandDuration,
		m.CommandsRejected,
		m.GatewayConnections,
		m.StreamBytesOut,
		m.ReaperSweeps,
		m.ReaperDeleted,
	)

	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartCollector updates runtime gauges periodically until stop is closed.
func (m *Metrics) StartCollector(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.GoroutinesCount.Set(float64(runtime.NumGoroutine()))
			case <-stop:
				return
			}
		}
	}()
}

// Serve exposes /metrics on its own port, separate from the API listener.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
