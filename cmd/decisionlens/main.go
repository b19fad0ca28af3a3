package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/decisionlens/pkg/async"
	"github.com/platinummonkey/decisionlens/pkg/atoms"
	"github.com/platinummonkey/decisionlens/pkg/config"
	"github.com/platinummonkey/decisionlens/pkg/engine"
	"github.com/platinummonkey/decisionlens/pkg/httputil"
	"github.com/platinummonkey/decisionlens/pkg/ingest"
	"github.com/platinummonkey/decisionlens/pkg/notify"
	"github.com/platinummonkey/decisionlens/pkg/observability"
	"github.com/platinummonkey/decisionlens/pkg/users"
)

var version = "dev"

const maxRankingLimit = 1000

var (
	configPath = flag.String("config", "", "Path to a YAML config file (watched for changes)")
	replayPath = flag.String("replay", "", "NDJSON telemetry file to ingest at startup, - for stdin")
	tenant     = flag.String("tenant", "", "Tenant for replayed records that name none (default: first configured tenant)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Fatalf("decisionlens: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		return err
	}
	daemonLog := observability.Component(logger, "daemon")

	providers, err := observability.InitOTel(context.Background(), cfg.OTelConfig(version), observability.Component(logger, "otel"))
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(promRegistry)
	}

	registry, err := engine.NewRegistry(cfg.EngineConfig(),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	for _, t := range cfg.Tenants {
		e, err := registry.Get(t)
		if err != nil {
			return fmt.Errorf("failed to create engine for tenant %s: %w", t, err)
		}
		async.SafeGoNoError(ctx, daemonLog, 0, "session log "+t, func(ctx context.Context) {
			logSessionEnds(ctx, e, cfg.Notifications.BufferSize, daemonLog)
		})
	}
	if err := registry.Start(ctx); err != nil {
		return err
	}

	if *replayPath != "" {
		if err := replay(ctx, *replayPath, registry, fallbackTenant(cfg), logger, metrics); err != nil {
			registry.Stop()
			return err
		}
	}

	if *configPath != "" {
		async.SafeGo(ctx, daemonLog, 0, "config watcher", func(ctx context.Context) error {
			return config.Watch(ctx, *configPath, observability.Component(logger, "config"), func(next *config.Config) {
				applyReload(next, logger, registry, daemonLog)
			})
		})
	}

	var server *http.Server
	if cfg.Server.MetricsAddr != "" {
		server = &http.Server{
			Addr:         cfg.Server.MetricsAddr,
			Handler:      otelhttp.NewHandler(newRouter(registry, promRegistry, metrics != nil, observability.Component(logger, "http")), "decisionlens"),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		async.SafeGo(ctx, daemonLog, 0, "http server", func(context.Context) error {
			daemonLog.WithField("addr", server.Addr).Info("Serving metrics and health probes")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel(fmt.Errorf("http server: %w", err))
				return err
			}
			return nil
		})
	}

	daemonLog.WithFields(logrus.Fields{
		"version": version,
		"tenants": registry.Tenants(),
	}).Info("decisionlens started")

	shutdown := observability.NewShutdownManager(daemonLog, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("engines", func(context.Context) error {
		cancel(nil)
		registry.Stop()
		return nil
	})
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, daemonLog)
	})
	return shutdown.WaitForShutdown(ctx)
}

func newRouter(registry *engine.Registry, gatherer prometheus.Gatherer, withMetrics bool, log *logrus.Entry) *mux.Router {
	health := observability.NewHealthChecker(version)
	health.Register("janitor", registry.Healthy, true)

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(log),
		httputil.LoggingMiddleware(log),
	)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/debug/engines", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, registry.Summaries())
	}).Methods(http.MethodGet)
	router.HandleFunc("/debug/engines/{tenant}", func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, r, registry)
		if !ok {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, e.Summary())
	}).Methods(http.MethodGet)
	router.HandleFunc("/debug/engines/{tenant}/atoms/rankings", func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, r, registry)
		if !ok {
			return
		}
		limit, err := httputil.QueryInt(r, "limit", atoms.DefaultRankingLimit, 1, maxRankingLimit)
		if err != nil {
			httputil.WriteBadRequest(w, r, err.Error())
			return
		}
		orderBy := atoms.RankingCriterion(r.URL.Query().Get("order_by"))
		if orderBy == "" {
			orderBy = atoms.RankByUsage
		}
		rankings, err := e.AtomRankings(r.Context(), orderBy, limit)
		if err != nil {
			httputil.WriteError(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rankings)
	}).Methods(http.MethodGet)
	if withMetrics {
		router.Handle("/metrics", observability.MetricsHandler(gatherer)).Methods(http.MethodGet)
	}
	return router
}

func lookupEngine(w http.ResponseWriter, r *http.Request, registry *engine.Registry) (*engine.Engine, bool) {
	tenant, ok := httputil.PathParam(w, r, "tenant")
	if !ok {
		return nil, false
	}
	e, found := registry.Lookup(tenant)
	if !found {
		httputil.WriteNotFound(w, r, "unknown tenant: "+tenant)
		return nil, false
	}
	return e, true
}

func fallbackTenant(cfg *config.Config) string {
	if *tenant != "" {
		return *tenant
	}
	if len(cfg.Tenants) > 0 {
		return cfg.Tenants[0]
	}
	return engine.DefaultTenant
}

func replay(ctx context.Context, path string, registry *engine.Registry, fallback string, logger *logrus.Logger, metrics *observability.Metrics) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open replay file: %w", err)
		}
		defer f.Close()
		r = f
	}

	log := observability.Component(logger, "ingest").WithField("source", path)
	res, err := ingest.Dispatch(ctx, r, ingest.Tenants(registry, fallback),
		ingest.WithLogger(log),
		ingest.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("replay of %s failed after %d records: %w", path, res.Applied, err)
	}
	return nil
}

func applyReload(next *config.Config, logger *logrus.Logger, registry *engine.Registry, log *logrus.Entry) {
	if level, err := observability.ParseLevel(next.Observability.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if err := registry.SetRetention(next.Retention.AtomDays, next.Retention.CampaignDays, next.Retention.UserDays); err != nil {
		log.WithError(err).Warn("Failed to apply retention change")
	}
}

// logSessionEnds follows the tenant's change bus and logs completed sessions.
func logSessionEnds(ctx context.Context, e *engine.Engine, buffer int, log *logrus.Entry) {
	events, unsubscribe := e.Bus().SubscribeChannel("daemon-sessions", buffer, notify.SessionEnded)
	defer unsubscribe()

	log = log.WithField("tenant", e.Tenant())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fields := logrus.Fields{"event_id": ev.ID, "at": ev.OccurredAt}
			if s, ok := ev.Payload.(users.SessionAnalytics); ok {
				fields["session_id"] = s.SessionID
				fields["user_id"] = s.UserID
				fields["requests"] = s.TotalRequests
				fields["duration"] = s.Duration
			}
			log.WithFields(fields).Debug("Session ended")
		}
	}
}
