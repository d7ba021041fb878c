package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	deletionhandler "github.com/staffbridge/staffbridge-saas/domains/deletion/be/handler"
	deletionrepo "github.com/staffbridge/staffbridge-saas/domains/deletion/be/repo"
	deletionservice "github.com/staffbridge/staffbridge-saas/domains/deletion/be/service"
	platformcache "github.com/staffbridge/staffbridge-saas/platform/go/cache"
	platformlogging "github.com/staffbridge/staffbridge-saas/platform/go/logging"
	platformmiddleware "github.com/staffbridge/staffbridge-saas/platform/go/middleware"
	"github.com/staffbridge/staffbridge-saas/platform/go/notify"
	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	AlertWebhookURL string        `env:"ALERT_WEBHOOK_URL"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"production"`
	GracePeriodDays int           `env:"DELETION_GRACE_PERIOD_DAYS" envDefault:"30"`
	CoolingOffHours int           `env:"DELETION_COOLING_OFF_HOURS" envDefault:"24"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
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
		logger.Warn("redis unavailable, continuing without session revocation", zap.Error(err))
		redisClient = platformcache.NewFromClient(nil)
	}
	defer func() {
		_ = redisClient.Close()
	}()

	var alerter notify.Alerter = notify.NopAlerter{}
	if cfg.AlertWebhookURL != "" {
		alerter = notify.NewWebhookAlerter(cfg.AlertWebhookURL)
	}

	svc, err := deletionservice.New(
		deletionrepo.NewPostgresRepository(deletionStore),
		deletionrepo.NewDirectoryAdapter(directory),
		platformcache.NewSessionStore(redisClient),
		notify.NopMailer{},
		alerter,
		deletionservice.Config{
			GracePeriodDays: cfg.GracePeriodDays,
			CoolingOffHours: cfg.CoolingOffHours,
			Environment:     cfg.Environment,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("init deletion service", zap.Error(err))
	}

	deletionHTTPHandler := deletionhandler.New(svc, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	rootRouter.Mount("/api/v1/admin", deletionHTTPHandler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
