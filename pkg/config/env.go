package config

const (
	EnvPrefix = "PROOFLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "PROOFLEDGER_APP_ENV"
	EnvPort     = "PROOFLEDGER_APP_PORT"
	EnvLogLevel = "PROOFLEDGER_LOG_LEVEL"

	EnvDBDSN  = "PROOFLEDGER_DB_DSN"
	EnvDBHost = "PROOFLEDGER_DB_HOST"
	EnvDBUser = "PROOFLEDGER_DB_USER"
	EnvDBName = "PROOFLEDGER_DB_NAME"

	EnvRedisURL = "PROOFLEDGER_REDIS_URL"

	EnvSeedSchemaA      = "PROOFLEDGER_SEED_SCHEMA_A"
	EnvSeedSchemaB      = "PROOFLEDGER_SEED_SCHEMA_B"
	EnvSeedSchemaC      = "PROOFLEDGER_SEED_SCHEMA_C"
	EnvMaxRebuildMonths = "PROOFLEDGER_RECONCILE_MAX_REBUILD_MONTHS"

	EnvPubSubLedgerTopic = "PROOFLEDGER_PUBSUB_LEDGER_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
