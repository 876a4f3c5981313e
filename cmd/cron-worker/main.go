package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/proofledger/internal/cron"
	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/config"
	"github.com/angelmondragon/proofledger/pkg/db"
	"github.com/angelmondragon/proofledger/pkg/instance"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/metrics"
	"github.com/angelmondragon/proofledger/pkg/migrate"
	"github.com/angelmondragon/proofledger/pkg/outbox"
	"github.com/angelmondragon/proofledger/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	// a single-instance deployment can run without redis; the cycle lock then
	// only guards this process
	var (
		lock      cron.Lock = cron.NewLocalLock()
		lockStore redis.LockStore
	)
	if cfg.Redis.Configured() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), 0)
		if err != nil {
			logg.Error(ctx, "failed to create cron lock", err)
			os.Exit(1)
		}
		lock, lockStore = redisLock, redisClient
	}

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	reportRepo := reports.NewRepository(dbClient.DB())
	reconcileService, err := reconcile.NewServiceFromConfig(cfg, reconcile.Dependencies{
		Ledger:     ledgerRepo,
		Store:      reportRepo,
		LockStore:  lockStore,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reconcile service", err)
		os.Exit(1)
	}

	monthClose, err := cron.NewMonthCloseJob(cron.MonthCloseJobParams{
		Logger:  logg,
		Sources: []cron.OrganizationLister{ledgerRepo, reportRepo},
		Closer:  reconcileService,
	})
	if err != nil {
		logg.Error(ctx, "failed to create month close job", err)
		os.Exit(1)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox retention job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(monthClose, retention),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceKind + "-" + env
}
