package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsExpired prometheus.Counter
	sessionsSwept   prometheus.Counter

	rpcRequestsTotal *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec

	activeStreams prometheus.Gauge
	framesPushed  prometheus.Counter
	framesDropped prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mcp_active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionsCreated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mcp_sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sessionsExpired: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mcp_sessions_expired_total",
					Help: "Total sessions removed by lazy expiry.",
				},
			),
			sessionsSwept: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mcp_sessions_swept_total",
					Help: "Total sessions removed by background sweeps.",
				},
			),
			rpcRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_rpc_requests_total",
					Help: "Total RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
			rpcDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcp_rpc_duration_seconds",
					Help:    "RPC dispatch duration in seconds by method.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method"},
			),
			activeStreams: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mcp_active_streams",
					Help: "Current open server-push streams.",
				},
			),
			framesPushed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mcp_stream_frames_pushed_total",
					Help: "Total frames enqueued to session event channels.",
				},
			),
			framesDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mcp_stream_frames_dropped_total",
					Help: "Total frames dropped under channel overflow.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcp_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsExpired,
			m.sessionsSwept,
			m.rpcRequestsTotal,
			m.rpcDuration,
			m.activeStreams,
			m.framesPushed,
			m.framesDropped,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionCreated(active int) {
	m := getMetrics()
	m.sessionsCreated.Inc()
	m.activeSessions.Set(float64(active))
}

func RecordSessionExpired(active int) {
	m := getMetrics()
	m.sessionsExpired.Inc()
	m.activeSessions.Set(float64(active))
}

func RecordSessionsSwept(removed, active int) {
	m := getMetrics()
	m.sessionsSwept.Add(float64(removed))
	m.activeSessions.Set(float64(active))
}

func RecordRPCRequest(method string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.rpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func StreamOpened() {
	getMetrics().activeStreams.Inc()
}

func StreamClosed() {
	getMetrics().activeStreams.Dec()
}

func RecordFramePushed() {
	getMetrics().framesPushed.Inc()
}

func RecordFrameDropped() {
	getMetrics().framesDropped.Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
