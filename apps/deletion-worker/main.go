// The deletion-worker binary runs the tenant deletion orchestrator as an
// isolated process, so an API deployment never interrupts an in-flight run.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	deletionexport "github.com/staffbridge/staffbridge-saas/domains/deletion/be/export"
	deletionrepo "github.com/staffbridge/staffbridge-saas/domains/deletion/be/repo"
	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/steps"
	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/worker"
	platformcache "github.com/staffbridge/staffbridge-saas/platform/go/cache"
	platformlogging "github.com/staffbridge/staffbridge-saas/platform/go/logging"
	"github.com/staffbridge/staffbridge-saas/platform/go/notify"
	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
	"github.com/staffbridge/staffbridge-saas/platform/go/storage"
)

type config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	MetricsPort     string        `env:"METRICS_PORT" envDefault:"9090"`
	PollInterval    time.Duration `env:"DELETION_POLL_INTERVAL" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"60s"`
	ExportRoot      string        `env:"EXPORT_ROOT" envDefault:"./.data/exports"`
	ExportRetention time.Duration `env:"EXPORT_RETENTION" envDefault:"2160h"`
	StorageRoot     string        `env:"STORAGE_ROOT" envDefault:"./.data/storage"`
	AlertWebhookURL string        `env:"ALERT_WEBHOOK_URL"`
	DeletionHooks   []string      `env:"DELETION_WEBHOOK_URLS" envSeparator:","`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "deletion-worker",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	deletionStore, err := persistence.NewDeletionStore(pool)
	if err != nil {
		logger.Fatal("init deletion store", zap.Error(err))
	}
	directory, err := persistence.NewTenantDirectory(pool)
	if err != nil {
		logger.Fatal("init tenant directory", zap.Error(err))
	}

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, cache purge steps will no-op", zap.Error(err))
		redisClient = platformcache.NewFromClient(nil)
	}
	defer func() {
		_ = redisClient.Close()
	}()

	objects, err := storage.NewLocalStore(cfg.StorageRoot)
	if err != nil {
		logger.Fatal("init object store", zap.Error(err))
	}

	exporter, err := deletionexport.NewExporter(cfg.ExportRoot, cfg.ExportRetention, logger)
	if err != nil {
		logger.Fatal("init exporter", zap.Error(err))
	}

	var alerter notify.Alerter = notify.NopAlerter{}
	if cfg.AlertWebhookURL != "" {
		alerter = notify.NewWebhookAlerter(cfg.AlertWebhookURL)
	}

	registry, err := steps.NewRegistry(steps.Deps{
		Store:    deletionStore,
		Exporter: exporter,
		Cache:    redisClient,
		Objects:  objects,
		Mailer:   notify.NopMailer{},
		Webhooks: notify.NewHTTPDeletionWebhooks(cfg.DeletionHooks),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("build step registry", zap.Error(err))
	}
	if err := registry.Validate(); err != nil {
		logger.Fatal("invalid step registry", zap.Error(err))
	}

	executor, err := steps.NewExecutor(pool, deletionStore, logger)
	if err != nil {
		logger.Fatal("init step executor", zap.Error(err))
	}

	w, err := worker.New(
		deletionrepo.NewPostgresRepository(deletionStore),
		deletionrepo.NewDirectoryAdapter(directory),
		executor,
		registry,
		logger,
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithSessionRevoker(platformcache.NewSessionStore(redisClient)),
		worker.WithAlerter(alerter),
		worker.WithMetrics(worker.NewMetrics()),
	)
	if err != nil {
		logger.Fatal("init deletion worker", zap.Error(err))
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}
	go func() {
		logger.Info("starting metrics server", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("metrics listen failed", zap.Error(err))
		}
	}()

	w.Start()
	logger.Info("deletion worker started",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("steps", registry.Len()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := w.Stop(shutdownCtx); err != nil {
		logger.Error("worker shutdown timed out", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
}
