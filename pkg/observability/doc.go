// Package observability provides structured logging, Prometheus metrics,
// tracing, health checks, panic recovery and graceful shutdown for the
// boardperm server.
//
// # Structured Logging
//
//	logger := observability.NewLogger(logrus.InfoLevel, os.Stdout)
//	router.Use(observability.RequestLogger(logger))
//
// Handlers retrieve the request-scoped logger with FromContext.
//
// # Prometheus Metrics
//
// CacheMetrics implements cache.Observer, so passing it to the rbac Manager
// exports hit, miss, expiration, eviction and invalidation counters per cache:
//
//	registry := prometheus.NewRegistry()
//	cfg := rbac.DefaultConfig()
//	cfg.Observer = observability.NewCacheMetrics(registry)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # Health Checks
//
// The database decides readiness. A Redis outage only degrades it, since
// the caches still converge through their TTL.
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
// InitTracing installs an OTLP/gRPC exporter as the global tracer provider.
// It returns a nil provider when tracing is disabled, and ShutdownTracing
// accepts nil.
//
//	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "localhost:4317",
//		ServiceName: "boardperm",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownTracing(context.Background(), tp)
//
// # Panic Recovery
//
// Recovery turns handler panics into 500 responses. Background goroutines
// use RecoverPanic directly:
//
//	go func() {
//		defer observability.RecoverPanic(logger, "invalidation listener")
//		...
//	}()
package observability
