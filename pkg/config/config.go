package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Reconcile    ReconcileConfig
	Registrant   RegistrantConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Reconcile.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PROOFLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"PROOFLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PROOFLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PROOFLEDGER_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"PROOFLEDGER_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PROOFLEDGER_SERVICE_KIND" default:"api"`
	// MetricsAddr, when set, makes background workers serve /metrics on it.
	MetricsAddr string `envconfig:"PROOFLEDGER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"PROOFLEDGER_DB_DSN"`
	Driver string `envconfig:"PROOFLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PROOFLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"PROOFLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PROOFLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"PROOFLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"PROOFLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"PROOFLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PROOFLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PROOFLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PROOFLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PROOFLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PROOFLEDGER_REDIS_URL"`
	Address      string        `envconfig:"PROOFLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"PROOFLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"PROOFLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PROOFLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PROOFLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PROOFLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PROOFLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PROOFLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any redis endpoint was supplied.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite        bool `envconfig:"PROOFLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate      bool `envconfig:"PROOFLEDGER_AUTO_MIGRATE" default:"false"`
	DistributedLocks bool `envconfig:"PROOFLEDGER_DISTRIBUTED_LOCKS" default:"false"`
	SyncNotify       bool `envconfig:"PROOFLEDGER_SYNC_NOTIFY" default:"true"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PROOFLEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"PROOFLEDGER_CRON_INTERVAL" default:"24h"`
	OutboxRetention time.Duration `envconfig:"PROOFLEDGER_CRON_OUTBOX_RETENTION" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PROOFLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PROOFLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PROOFLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic        string `envconfig:"PROOFLEDGER_PUBSUB_LEDGER_TOPIC" default:"proofledger-ledger-events"`
	LedgerSubscription string `envconfig:"PROOFLEDGER_PUBSUB_LEDGER_SUBSCRIPTION" default:"proofledger-ledger-events-reconcile"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PROOFLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PROOFLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PROOFLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// ReconcileConfig holds the organization calibration constants and lock tuning for the
// monthly inventory reconciliation.
type ReconcileConfig struct {
	SeedSchemaA      string        `envconfig:"PROOFLEDGER_SEED_SCHEMA_A" default:"245.6"`
	SeedSchemaB      string        `envconfig:"PROOFLEDGER_SEED_SCHEMA_B" default:"200.5"`
	SeedSchemaC      string        `envconfig:"PROOFLEDGER_SEED_SCHEMA_C" default:"310.2"`
	LockTTL          time.Duration `envconfig:"PROOFLEDGER_RECONCILE_LOCK_TTL" default:"30s"`
	LockWait         time.Duration `envconfig:"PROOFLEDGER_RECONCILE_LOCK_WAIT" default:"10s"`
	MaxRebuildMonths int           `envconfig:"PROOFLEDGER_RECONCILE_MAX_REBUILD_MONTHS" default:"120"`
}

// Seeds parses the configured seed balances keyed by schema letter.
func (r ReconcileConfig) Seeds() (map[string]decimal.Decimal, error) {
	raw := map[string]string{
		"A": r.SeedSchemaA,
		"B": r.SeedSchemaB,
		"C": r.SeedSchemaC,
	}
	seeds := make(map[string]decimal.Decimal, len(raw))
	for schema, value := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("seed for schema %s: %w", schema, err)
		}
		seeds[schema] = d
	}
	return seeds, nil
}

func (r ReconcileConfig) validate() error {
	if _, err := r.Seeds(); err != nil {
		return err
	}
	if r.MaxRebuildMonths <= 0 {
		return fmt.Errorf("%s must be positive", EnvMaxRebuildMonths)
	}
	return nil
}

// RegistrantConfig supplies the default bookkeeping metadata copied onto new report records.
type RegistrantConfig struct {
	RegistrationNumber string `envconfig:"PROOFLEDGER_REGISTRANT_REGISTRATION_NUMBER"`
	ProprietorName     string `envconfig:"PROOFLEDGER_REGISTRANT_PROPRIETOR_NAME"`
	ProprietorAddress  string `envconfig:"PROOFLEDGER_REGISTRANT_PROPRIETOR_ADDRESS"`
	EIN                string `envconfig:"PROOFLEDGER_REGISTRANT_EIN"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
