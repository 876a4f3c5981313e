package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/config"
	"github.com/angelmondragon/proofledger/pkg/db"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/redis"
)

// reconcile rebuilds stored reports for one organization from its ledger, e.g.
//
//	reconcile -org <uuid> -schema A -from 2024-01 -to 2024-06
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "reconcile"})

	_ = godotenv.Load()

	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "reconcile",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithOrganizationID(logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"from": reconcile.FormatMonth(opts.from),
		"to":   reconcile.FormatMonth(opts.to),
	}), opts.organizationID.String())

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	// a rebuild racing a live worker must share its redis lock
	var lockStore redis.LockStore
	if cfg.FeatureFlags.DistributedLocks {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer redisClient.Close()
		lockStore = redisClient
	}

	service, err := reconcile.NewServiceFromConfig(cfg, reconcile.Dependencies{
		Ledger:    ledger.NewRepository(dbClient.DB()),
		Store:     reports.NewRepository(dbClient.DB()),
		LockStore: lockStore,
		Logger:    logg,
	})
	requireResource(ctx, logg, "reconcile service", err)

	failed := false
	for _, schema := range opts.schemas {
		rebuilt, err := service.Rebuild(ctx, opts.organizationID, schema, opts.from, opts.to)
		if err != nil {
			logg.Error(logg.WithField(ctx, "schema", schema.String()), "reconcile.rebuild_failed", err)
			failed = true
			continue
		}
		for _, report := range rebuilt {
			record := report.Record
			line := fmt.Sprintf("%s %s beginning=%s ending=%s",
				schema, reconcile.FormatMonth(record.Month),
				record.BeginningBalance.StringFixed(1), record.EndingBalance.StringFixed(1))
			if report.NegativeEnding {
				line += " NEGATIVE_ENDING"
			}
			fmt.Println(line)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
