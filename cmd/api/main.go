package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/proofledger/api/controllers"
	"github.com/angelmondragon/proofledger/api/routes"
	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/config"
	"github.com/angelmondragon/proofledger/pkg/db"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/migrate"
	"github.com/angelmondragon/proofledger/pkg/outbox"
	"github.com/angelmondragon/proofledger/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	// redis is optional for the api: without it locks stay in-process and
	// Idempotency-Key headers are ignored
	var (
		redisClient *redis.Client
		redisPinger controllers.Pinger
		idempotency redis.IdempotencyStore
		lockStore   redis.LockStore
	)
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisPinger, idempotency, lockStore = redisClient, redisClient, redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	reconcileService, err := reconcile.NewServiceFromConfig(cfg, reconcile.Dependencies{
		Ledger:     ledgerRepo,
		Store:      reports.NewRepository(dbClient.DB()),
		LockStore:  lockStore,
		Registerer: registry,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	var notifier ledger.Notifier
	if cfg.FeatureFlags.SyncNotify {
		notifier = reconcileService
	}
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledgerRepo,
		DB:         dbClient,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Notifier:   notifier,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisPinger,
			Idempotency: idempotency,
			Gatherer:    registry,
			Ledger:      ledgerService,
			Reconcile:   reconcileService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
