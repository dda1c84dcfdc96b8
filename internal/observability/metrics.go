package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upendohq/idhini/internal/action"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// breakerStates maps breaker state names to gauge values.
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Action metrics
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge

	// Cache metrics
	LookupCacheHitsTotal   prometheus.Counter
	LookupCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idhini_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idhini_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idhini_actions_total",
			Help: "Total number of dispatched approval actions.",
		}, []string{"action", "status"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idhini_action_duration_seconds",
			Help:    "Action dispatch duration in seconds, including refetch.",
			Buckets: backendDurationBuckets,
		}, []string{"action"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idhini_backend_requests_total",
			Help: "Total number of asset-service requests.",
		}, []string{"operation_id", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idhini_backend_request_duration_seconds",
			Help:    "Asset-service request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation_id"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "idhini_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		LookupCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idhini_lookup_cache_hits_total",
			Help: "Total technician lookup cache hits.",
		}),
		LookupCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idhini_lookup_cache_misses_total",
			Help: "Total technician lookup cache misses.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActionsTotal,
		m.ActionDuration,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// OnActionDispatched implements action.Observer.
func (m *Metrics) OnActionDispatched(_ context.Context, event action.Event) {
	status := "ok"
	if !event.Success {
		status = event.ErrorCode
	}
	m.ActionsTotal.WithLabelValues(event.Action, status).Inc()
	m.ActionDuration.WithLabelValues(event.Action).Observe(event.Duration.Seconds())
}

// ObserveBackendRequest implements the asset-client metrics observer.
func (m *Metrics) ObserveBackendRequest(operationID string, status int, elapsed time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(operationID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operationID).Observe(elapsed.Seconds())
}

// SetBreakerState implements the asset-client metrics observer.
func (m *Metrics) SetBreakerState(state string) {
	m.BackendCircuitBreakerState.Set(breakerStates[state])
}

// ObserveLookupCache implements lookup.CacheObserver.
func (m *Metrics) ObserveLookupCache(hit bool) {
	if hit {
		m.LookupCacheHitsTotal.Inc()
		return
	}
	m.LookupCacheMissesTotal.Inc()
}

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
