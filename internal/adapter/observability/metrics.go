// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// SyncAttemptsTotal counts sync attempts by outcome (success/failed).
	SyncAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_attempts_total",
			Help: "Total number of sync attempts by outcome",
		},
		[]string{"outcome"},
	)
	// SyncDuration records sync attempt durations.
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Sync attempt duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"connection_id"},
	)
	// SyncRowsProcessed counts rows processed per sync.
	SyncRowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_processed_total",
			Help: "Total rows processed across syncs",
		},
		[]string{"connection_id"},
	)

	// RateLimiterWaitSeconds records how long callers waited on the rate limiter.
	RateLimiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting for rate limiter tokens",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"bucket"},
	)

	// CacheHitsTotal and CacheMissesTotal count analytics cache lookups.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_hits_total",
			Help: "Total analytics cache hits",
		},
		[]string{"endpoint"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_misses_total",
			Help: "Total analytics cache misses",
		},
		[]string{"endpoint"},
	)
	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_invalidations_total",
			Help: "Total analytics cache invalidations by connection",
		},
		[]string{"connection_id"},
	)

	// AgentIterationsHistogram tracks how many ReAct iterations a request took.
	AgentIterationsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_iterations",
			Help:    "Number of ReAct loop iterations per chat request",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
	// AgentToolCallsTotal counts tool invocations by tool name and outcome.
	AgentToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tool_calls_total",
			Help: "Total tool invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// ChatEventsTotal counts streamed chat lifecycle events by name.
	ChatEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Total streamed chat events by event name",
		},
		[]string{"event"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SyncAttemptsTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncRowsProcessed)
	prometheus.MustRegister(RateLimiterWaitSeconds)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheInvalidationsTotal)
	prometheus.MustRegister(AgentIterationsHistogram)
	prometheus.MustRegister(AgentToolCallsTotal)
	prometheus.MustRegister(ChatEventsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordSyncOutcome increments the sync outcome counter and duration histogram.
func RecordSyncOutcome(connectionID, outcome string, duration time.Duration) {
	SyncAttemptsTotal.WithLabelValues(outcome).Inc()
	SyncDuration.WithLabelValues(connectionID).Observe(duration.Seconds())
}

// RecordRowsProcessed adds to the rows-processed counter for a connection.
func RecordRowsProcessed(connectionID string, n int) {
	if n <= 0 {
		return
	}
	SyncRowsProcessed.WithLabelValues(connectionID).Add(float64(n))
}

// RecordRateLimiterWait observes how long a caller waited for the named bucket.
func RecordRateLimiterWait(bucket string, wait time.Duration) {
	RateLimiterWaitSeconds.WithLabelValues(bucket).Observe(wait.Seconds())
}

// RecordCacheHit/RecordCacheMiss/RecordCacheInvalidation track analytics cache usage.
func RecordCacheHit(endpoint string)  { CacheHitsTotal.WithLabelValues(endpoint).Inc() }
func RecordCacheMiss(endpoint string) { CacheMissesTotal.WithLabelValues(endpoint).Inc() }
func RecordCacheInvalidation(connectionID string) {
	CacheInvalidationsTotal.WithLabelValues(connectionID).Inc()
}

// RecordAgentIterations observes the number of ReAct loop iterations taken.
func RecordAgentIterations(n int) { AgentIterationsHistogram.Observe(float64(n)) }

// RecordToolCall increments the tool-call counter for a tool/outcome pair.
func RecordToolCall(tool, outcome string) { AgentToolCallsTotal.WithLabelValues(tool, outcome).Inc() }

// RecordChatEvent increments the chat event counter for a named event.
func RecordChatEvent(event string) { ChatEventsTotal.WithLabelValues(event).Inc() }
