package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics. A nil *MetricsManager is valid
// and records nothing.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	connectorsTotal *prometheus.GaugeVec
	toolsTotal      *prometheus.GaugeVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec

	upstreamAttempts *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	hotReloads       *prometheus.CounterVec
	sessions         prometheus.Gauge
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_http_requests_total",
			Help: "Total number of management API requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgateway_http_request_duration_seconds",
			Help:    "Management API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.connectorsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcpgateway_connectors",
		Help: "Installed connectors per project and state",
	}, []string{"project", "state"})

	mm.toolsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcpgateway_tools",
		Help: "Registered tools per project",
	}, []string{"project"})

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_tool_calls_total",
			Help: "Total number of tool calls by outcome",
		},
		[]string{"connector", "tool", "status"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgateway_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"connector", "tool", "status"},
	)

	mm.upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_upstream_attempts_total",
			Help: "Outbound HTTP attempts, including retries",
		},
		[]string{"connector", "outcome"},
	)

	mm.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_rate_limited_total",
			Help: "Tool calls rejected by the per-connector rate limit",
		},
		[]string{"connector"},
	)

	mm.hotReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_hot_reloads_total",
			Help: "Connector hot reloads by result",
		},
		[]string{"project", "result"}, // result: reloaded, failed
	)

	mm.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_sessions_active",
		Help: "Active MCP protocol sessions",
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.connectorsTotal,
		mm.toolsTotal,
		mm.toolCalls,
		mm.toolDuration,
		mm.upstreamAttempts,
		mm.rateLimited,
		mm.hotReloads,
		mm.sessions,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	if mm == nil {
		return
	}
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records a management API request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetProjectStats updates the registry gauges of one project
func (mm *MetricsManager) SetProjectStats(project string, enabled, disabled, tools int) {
	if mm == nil {
		return
	}
	mm.connectorsTotal.WithLabelValues(project, "enabled").Set(float64(enabled))
	mm.connectorsTotal.WithLabelValues(project, "disabled").Set(float64(disabled))
	mm.toolsTotal.WithLabelValues(project).Set(float64(tools))
}

// RecordToolCall records a finished tool call
func (mm *MetricsManager) RecordToolCall(connector, tool, status string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.toolCalls.WithLabelValues(connector, tool, status).Inc()
	mm.toolDuration.WithLabelValues(connector, tool, status).Observe(duration.Seconds())
}

// RecordUpstreamAttempt records one outbound attempt
func (mm *MetricsManager) RecordUpstreamAttempt(connector, outcome string) {
	if mm == nil {
		return
	}
	mm.upstreamAttempts.WithLabelValues(connector, outcome).Inc()
}

// RecordRateLimited records a call rejected by the rate limiter
func (mm *MetricsManager) RecordRateLimited(connector string) {
	if mm == nil {
		return
	}
	mm.rateLimited.WithLabelValues(connector).Inc()
}

// RecordHotReload records reloaded and failed connector counts of one check
func (mm *MetricsManager) RecordHotReload(project string, reloaded, failed int) {
	if mm == nil {
		return
	}
	if reloaded > 0 {
		mm.hotReloads.WithLabelValues(project, "reloaded").Add(float64(reloaded))
	}
	if failed > 0 {
		mm.hotReloads.WithLabelValues(project, "failed").Add(float64(failed))
	}
}

// SessionOpened and SessionClosed track active protocol sessions
func (mm *MetricsManager) SessionOpened() {
	if mm == nil {
		return
	}
	mm.sessions.Inc()
}

func (mm *MetricsManager) SessionClosed() {
	if mm == nil {
		return
	}
	mm.sessions.Dec()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
