package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Alerts       AlertsConfig
	Concurrency  ConcurrencyConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPSTOCK_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"SHOPSTOCK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPSTOCK_LOG_WARN_STACK" default:"false"`
	MetricsAddr  string `envconfig:"SHOPSTOCK_METRICS_ADDR" default:":9090"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPSTOCK_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPSTOCK_DB_DSN"`
	Driver string `envconfig:"SHOPSTOCK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPSTOCK_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPSTOCK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPSTOCK_DB_USER"`
	LegacyPassword string `envconfig:"SHOPSTOCK_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPSTOCK_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPSTOCK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPSTOCK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPSTOCK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPSTOCK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPSTOCK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver targets SQLite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite") || strings.EqualFold(db.Driver, "sqlite3")
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPSTOCK_REDIS_URL"`
	Address      string        `envconfig:"SHOPSTOCK_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPSTOCK_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPSTOCK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPSTOCK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPSTOCK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPSTOCK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPSTOCK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPSTOCK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPSTOCK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPSTOCK_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SHOPSTOCK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"SHOPSTOCK_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"SHOPSTOCK_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	InventoryTopic        string `envconfig:"SHOPSTOCK_PUBSUB_INVENTORY_TOPIC" default:"shopstock-inventory-events"`
	InventorySubscription string `envconfig:"SHOPSTOCK_PUBSUB_INVENTORY_SUBSCRIPTION" default:"shopstock-inventory-alerts"`
	AlertsTopic           string `envconfig:"SHOPSTOCK_PUBSUB_ALERTS_TOPIC" default:"shopstock-alert-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOPSTOCK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOPSTOCK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOPSTOCK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"SHOPSTOCK_OUTBOX_RETENTION_DAYS" default:"30"`
}

type AlertsConfig struct {
	RetentionDays int           `envconfig:"SHOPSTOCK_ALERT_RETENTION_DAYS" default:"90"`
	SweepInterval time.Duration `envconfig:"SHOPSTOCK_ALERT_SWEEP_INTERVAL" default:"1h"`
}

type ConcurrencyConfig struct {
	MaxRetries int `envconfig:"SHOPSTOCK_CONCURRENCY_MAX_RETRIES" default:"3"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite && !db.IsSQLite() {
		db.Driver = "sqlite"
	}
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:shopstock.db?cache=shared"
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
