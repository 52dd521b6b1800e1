// Package observability provides structured logging and Prometheus metrics.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// Loggers are carried through request contexts; use FromContext to get a
// logger pre-populated with the request ID and account ID.
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CounterMutationsTotal.WithLabelValues("delta", "ok").Inc()
//
// HTTPMetricsMiddleware instruments every request with count and duration;
// MetricsHandler serves the registry for scraping on the health port.
package observability
