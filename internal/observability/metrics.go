package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets       = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	repositoryDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds all Prometheus metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Repository metrics
	RepositoryOpsTotal   *prometheus.CounterVec
	RepositoryOpDuration *prometheus.HistogramVec
	BreakerState         *prometheus.GaugeVec
	IdempotentReplays    prometheus.Counter

	// Live query metrics
	LiveSubscriptionsActive *prometheus.GaugeVec
	LiveSubscribesTotal     *prometheus.CounterVec
	LiveErrorsTotal         *prometheus.CounterVec

	// Store metrics
	ListFetchesTotal     *prometheus.CounterVec
	ChangeEventsTotal    *prometheus.CounterVec
	PoolHitsTotal        prometheus.Counter
	PoolMissesTotal      prometheus.Counter
	EntityTypesAvailable prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitystore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		RepositoryOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_repository_operations_total",
			Help: "Total number of repository operations.",
		}, []string{"entity", "operation", "status"}),
		RepositoryOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitystore_repository_operation_duration_seconds",
			Help:    "Repository operation duration in seconds.",
			Buckets: repositoryDurationBuckets,
		}, []string{"entity", "operation"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "entitystore_repository_breaker_state",
			Help: "Circuit breaker state per entity type (0 closed, 1 open, 2 half-open).",
		}, []string{"entity"}),
		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_idempotent_replays_total",
			Help: "Total create requests answered from the idempotency store.",
		}),

		LiveSubscriptionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "entitystore_live_subscriptions_active",
			Help: "Number of active live subscriptions.",
		}, []string{"slot"}),
		LiveSubscribesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_live_subscribes_total",
			Help: "Total number of live subscriptions established.",
		}, []string{"slot"}),
		LiveErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_live_errors_total",
			Help: "Total number of live subscription errors.",
		}, []string{"slot"}),

		ListFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_list_fetches_total",
			Help: "Total number of list store fetches.",
		}, []string{"entity", "status"}),
		ChangeEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_change_events_total",
			Help: "Total number of change notifications published or received.",
		}, []string{"entity", "direction"}),
		PoolHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_pool_hits_total",
			Help: "Total object pool hits.",
		}),
		PoolMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_pool_misses_total",
			Help: "Total object pool misses.",
		}),
		EntityTypesAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entitystore_entity_types_available",
			Help: "Number of entity types with loaded metadata.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RepositoryOpsTotal,
		m.RepositoryOpDuration,
		m.BreakerState,
		m.IdempotentReplays,
		m.LiveSubscriptionsActive,
		m.LiveSubscribesTotal,
		m.LiveErrorsTotal,
		m.ListFetchesTotal,
		m.ChangeEventsTotal,
		m.PoolHitsTotal,
		m.PoolMissesTotal,
		m.EntityTypesAvailable,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordRepositoryOp records one repository call.
func (m *Metrics) RecordRepositoryOp(entity, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.RepositoryOpsTotal.WithLabelValues(entity, op, outcome(err)).Inc()
	m.RepositoryOpDuration.WithLabelValues(entity, op).Observe(duration.Seconds())
}

// SetBreakerState records the circuit breaker state of an entity type.
func (m *Metrics) SetBreakerState(entity string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(entity).Set(float64(state))
}

// RecordIdempotentReplay records a create answered from a stored result.
func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.IdempotentReplays.Inc()
}

// RecordLiveSubscribe records a live subscription being established.
func (m *Metrics) RecordLiveSubscribe(slot string) {
	if m == nil {
		return
	}
	m.LiveSubscribesTotal.WithLabelValues(slot).Inc()
	m.LiveSubscriptionsActive.WithLabelValues(slot).Inc()
}

// RecordLiveCancel records a live subscription being torn down.
func (m *Metrics) RecordLiveCancel(slot string) {
	if m == nil {
		return
	}
	m.LiveSubscriptionsActive.WithLabelValues(slot).Dec()
}

// RecordLiveError records a live subscription error.
func (m *Metrics) RecordLiveError(slot string) {
	if m == nil {
		return
	}
	m.LiveErrorsTotal.WithLabelValues(slot).Inc()
}

// RecordListFetch records a list store fetch.
func (m *Metrics) RecordListFetch(entity string, err error) {
	if m == nil {
		return
	}
	m.ListFetchesTotal.WithLabelValues(entity, outcome(err)).Inc()
}

// RecordChangeEvent records a change notification. Direction is "published"
// or "received".
func (m *Metrics) RecordChangeEvent(entity, direction string) {
	if m == nil {
		return
	}
	m.ChangeEventsTotal.WithLabelValues(entity, direction).Inc()
}

// RecordPoolHit records an object pool hit.
func (m *Metrics) RecordPoolHit(string) {
	if m == nil {
		return
	}
	m.PoolHitsTotal.Inc()
}

// RecordPoolMiss records an object pool miss.
func (m *Metrics) RecordPoolMiss(string) {
	if m == nil {
		return
	}
	m.PoolMissesTotal.Inc()
}

// SetEntityTypesAvailable sets the number of entity types with metadata.
func (m *Metrics) SetEntityTypesAvailable(n int) {
	if m == nil {
		return
	}
	m.EntityTypesAvailable.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
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

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
// It forwards Flush so streaming handlers keep working behind it.
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
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
