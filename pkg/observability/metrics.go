package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitChecksTotal *prometheus.CounterVec
	RateLimitStoreErrors *prometheus.CounterVec

	// Usage counter metrics
	CounterMutationsTotal *prometheus.CounterVec
	CounterConflictsTotal prometheus.Counter

	// Subscription metrics
	SubscriptionEvaluationsTotal *prometheus.CounterVec
	SubscriptionGateDenialsTotal *prometheus.CounterVec

	// Upload metrics
	UploadValidationsTotal *prometheus.CounterVec
	UploadBytesTotal       prometheus.Counter
	DerivativeDuration     prometheus.Histogram

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "razorlib_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Rate limiting metrics
		RateLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_ratelimit_checks_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"action", "outcome"},
		),
		RateLimitStoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_ratelimit_store_errors_total",
				Help: "Total number of attempt store errors (checks fail closed)",
			},
			[]string{"action"},
		),

		// Usage counter metrics
		CounterMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_counter_mutations_total",
				Help: "Total number of usage counter mutations",
			},
			[]string{"operation", "status"},
		),
		CounterConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "razorlib_counter_conflicts_total",
				Help: "Total number of version conflicts on counter updates",
			},
		),

		// Subscription metrics
		SubscriptionEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_subscription_evaluations_total",
				Help: "Total number of subscription state evaluations",
			},
			[]string{"state"},
		),
		SubscriptionGateDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_subscription_gate_denials_total",
				Help: "Total number of requests denied by the subscription gate",
			},
			[]string{"state"},
		),

		// Upload metrics
		UploadValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorlib_upload_validations_total",
				Help: "Total number of upload validations",
			},
			[]string{"content_type", "outcome"},
		),
		UploadBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "razorlib_upload_bytes_total",
				Help: "Total bytes accepted for upload",
			},
		),
		DerivativeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "razorlib_derivative_duration_seconds",
				Help:    "Derivative generation duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "razorlib_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "razorlib_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitChecksTotal,
		m.RateLimitStoreErrors,
		m.CounterMutationsTotal,
		m.CounterConflictsTotal,
		m.SubscriptionEvaluationsTotal,
		m.SubscriptionGateDenialsTotal,
		m.UploadValidationsTotal,
		m.UploadBytesTotal,
		m.DerivativeDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
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

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// ObserveDBStats records a connection pool snapshot on the gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// SampleDBStats periodically snapshots the pool onto the gauges until the
// context is canceled
func SampleDBStats(ctx context.Context, db *sql.DB, m *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ObserveDBStats(db.Stats())
		}
	}
}

// MetricsHandler returns an HTTP handler serving the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
