package reconcile

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/config"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/metrics"
	"github.com/angelmondragon/proofledger/pkg/redis"
)

// Dependencies are the runtime collaborators a binary hands to NewServiceFromConfig.
// LockStore is only consulted when distributed locks are enabled.
type Dependencies struct {
	Ledger     LedgerReader
	Store      ReportStore
	LockStore  redis.LockStore
	Registerer prometheus.Registerer
	Logger     *logger.Logger
}

// NewServiceFromConfig builds the orchestrator the way every binary runs it.
func NewServiceFromConfig(cfg *config.Config, deps Dependencies) (Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	seeds, err := SeedsFromConfig(cfg.Reconcile)
	if err != nil {
		return nil, err
	}
	locker, err := LockerFromConfig(cfg, deps.LockStore)
	if err != nil {
		return nil, err
	}
	return NewService(ServiceParams{
		Ledger:           deps.Ledger,
		Store:            deps.Store,
		Seeds:            seeds,
		Locker:           locker,
		Registrant:       RegistrantFromConfig(cfg.Registrant),
		MaxRebuildMonths: cfg.Reconcile.MaxRebuildMonths,
		Metrics:          metrics.NewReconcileMetrics(deps.Registerer),
		Logger:           deps.Logger,
	})
}

// LockerFromConfig always serializes in-process and adds a redis lock across
// processes when distributed locks are enabled.
func LockerFromConfig(cfg *config.Config, store redis.LockStore) (Locker, error) {
	local := NewLocalLocker()
	if !cfg.FeatureFlags.DistributedLocks {
		return local, nil
	}
	if store == nil {
		return nil, errors.New("distributed locks enabled but no redis lock store configured")
	}
	remote, err := NewRedisLocker(store, cfg.Reconcile.LockTTL, cfg.Reconcile.LockWait)
	if err != nil {
		return nil, err
	}
	return ChainLockers(local, remote), nil
}

func RegistrantFromConfig(cfg config.RegistrantConfig) reports.Metadata {
	return reports.Metadata{
		RegistrationNumber: cfg.RegistrationNumber,
		ProprietorName:     cfg.ProprietorName,
		ProprietorAddress:  cfg.ProprietorAddress,
		EIN:                cfg.EIN,
	}
}
