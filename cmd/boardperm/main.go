package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/boardperm/pkg/config"
	"github.com/platinummonkey/boardperm/pkg/observability"
	"github.com/platinummonkey/boardperm/pkg/rbac"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configFile = flag.String("config", "", "Path to a YAML config file (environment variables override it)")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("boardperm exited")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig()
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		ServiceName:    "boardperm",
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "boardperm"),
	)

	rbacCfg := rbac.DefaultConfig()
	rbacCfg.ProjectCacheTTL = cfg.Cache.ProjectTTL
	rbacCfg.ProjectCacheMaxSize = cfg.Cache.ProjectMaxSize
	rbacCfg.TeamCacheTTL = cfg.Cache.TeamTTL
	rbacCfg.TeamCacheMaxSize = cfg.Cache.TeamMaxSize
	rbacCfg.UserID = rbac.HeaderUserID(cfg.Server.UserIDHeader)
	if cfg.Observability.MetricsEnabled {
		rbacCfg.Observer = observability.NewCacheMetrics(registry)
	}

	manager := rbac.NewManager(db, rbacCfg, logger)
	if cfg.Database.AutoMigrate {
		if err := manager.Initialize(ctx); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Broadcast.Enabled {
		opts, err := redis.ParseURL(cfg.Broadcast.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := manager.EnableBroadcast(ctx, redisClient, cfg.Broadcast.Channel); err != nil {
			return fmt.Errorf("failed to enable invalidation broadcast: %w", err)
		}
	}

	router := mux.NewRouter()
	router.Use(observability.Recovery(logger), observability.RequestLogger(logger))
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.NewHTTPMetrics(registry).Middleware)
	}
	manager.RegisterRoutes(router)

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, redisClient))
	manager.RegisterDebugRoutes(healthRouter)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "boardperm"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}(srv)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return manager.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp)
	})

	done := make(chan error, 1)
	go func() { done <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case err := <-done:
		return err
	}
}
