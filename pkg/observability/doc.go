// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry export, health probes and graceful shutdown for decisionlens.
//
// # Structured Logging
//
// Create a logger and derive per-component entries:
//
//	logger, err := observability.NewLogger("info", "json", os.Stdout)
//	log := observability.Component(logger, "atoms")
//	log.WithField("atom_id", id).Debug("usage recorded")
//
// # Prometheus Metrics
//
// Register engine metrics on a registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordIngested("atom_usage")
//
// Every Metrics method is safe on a nil receiver so components can run
// without instrumentation (tests, embedded use).
//
// # Health Checks
//
//	checker := observability.NewHealthChecker("1.0.0")
//	checker.Register("janitor", janitor.Healthy, true)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # OpenTelemetry
//
// InitOTel installs OTLP gRPC trace and metric providers; it is a no-op when
// disabled. Request logs pick up span ids through WithTraceContext.
//
//	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(version), log)
//	shutdown.Register("otel", func(ctx context.Context) error {
//		return observability.ShutdownOTel(ctx, providers, log)
//	})
//
// # Shutdown
//
// ShutdownManager stops the HTTP server and runs the registered steps in
// order once SIGINT, SIGTERM or the end of the passed context arrives.
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/engine: Wires metrics and loggers into the analyzers
package observability
