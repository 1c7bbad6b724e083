package config

// Environment variable names read by Load. Tags on the config structs use the
// same literals; the constants exist for tests and tooling.
const (
	EnvPrefix = "SHOPSTOCK"

	EnvAppEnv       = "SHOPSTOCK_APP_ENV"
	EnvLogLevel     = "SHOPSTOCK_LOG_LEVEL"
	EnvLogWarnStack = "SHOPSTOCK_LOG_WARN_STACK"
	EnvServiceKind  = "SHOPSTOCK_SERVICE_KIND"
	EnvMetricsAddr  = "SHOPSTOCK_METRICS_ADDR"

	EnvDBDSN      = "SHOPSTOCK_DB_DSN"
	EnvDBDriver   = "SHOPSTOCK_DB_DRIVER"
	EnvDBHost     = "SHOPSTOCK_DB_HOST"
	EnvDBPort     = "SHOPSTOCK_DB_PORT"
	EnvDBUser     = "SHOPSTOCK_DB_USER"
	EnvDBPassword = "SHOPSTOCK_DB_PASSWORD"
	EnvDBName     = "SHOPSTOCK_DB_NAME"
	EnvDBSSLMode  = "SHOPSTOCK_DB_SSLMODE"

	EnvRedisURL  = "SHOPSTOCK_REDIS_URL"
	EnvRedisAddr = "SHOPSTOCK_REDIS_ADDR"

	EnvUseSQLite   = "SHOPSTOCK_USE_SQLITE"
	EnvAutoMigrate = "SHOPSTOCK_AUTO_MIGRATE"

	EnvGCPProjectID       = "SHOPSTOCK_GCP_PROJECT_ID"
	EnvGCPCredentialsJSON = "SHOPSTOCK_GCP_CREDENTIALS_JSON"

	EnvPubSubInventoryTopic = "SHOPSTOCK_PUBSUB_INVENTORY_TOPIC"
	EnvPubSubInventorySub   = "SHOPSTOCK_PUBSUB_INVENTORY_SUBSCRIPTION"
	EnvPubSubAlertsTopic    = "SHOPSTOCK_PUBSUB_ALERTS_TOPIC"

	EnvAlertRetentionDays = "SHOPSTOCK_ALERT_RETENTION_DAYS"
	EnvAlertSweepInterval = "SHOPSTOCK_ALERT_SWEEP_INTERVAL"

	EnvConcurrencyMaxRetries = "SHOPSTOCK_CONCURRENCY_MAX_RETRIES"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
