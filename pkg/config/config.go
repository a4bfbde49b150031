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
	JWT          JWTConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COMMONS_APP_ENV" required:"true"`
	Port         string `envconfig:"COMMONS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COMMONS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COMMONS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"COMMONS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COMMONS_DB_DSN"`
	Driver string `envconfig:"COMMONS_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"COMMONS_DB_HOST"`
	Port     int    `envconfig:"COMMONS_DB_PORT" default:"5432"`
	User     string `envconfig:"COMMONS_DB_USER"`
	Password string `envconfig:"COMMONS_DB_PASSWORD"`
	Name     string `envconfig:"COMMONS_DB_NAME"`
	SSLMode  string `envconfig:"COMMONS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COMMONS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COMMONS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COMMONS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COMMONS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite dialector should be used.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"COMMONS_REDIS_URL" required:"true"`
	Password     string        `envconfig:"COMMONS_REDIS_PASSWORD"`
	DB           int           `envconfig:"COMMONS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COMMONS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COMMONS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COMMONS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COMMONS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COMMONS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for tokens minted by the auth service.
type JWTConfig struct {
	Secret            string `envconfig:"COMMONS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COMMONS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COMMONS_JWT_EXPIRATION_MINUTES" default:"60"`
	RequireSession    bool   `envconfig:"COMMONS_JWT_REQUIRE_SESSION" default:"false"`
}

func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type CheckoutConfig struct {
	MaxAttempts    int           `envconfig:"COMMONS_CHECKOUT_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"COMMONS_CHECKOUT_RETRY_BASE_DELAY" default:"25ms"`
	IdempotencyTTL time.Duration `envconfig:"COMMONS_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

func (c CheckoutConfig) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvCheckoutMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("%s must be positive", EnvCheckoutRetryBaseDelay)
	}
	return nil
}

type RateLimitConfig struct {
	CartWindow time.Duration `envconfig:"COMMONS_RATE_LIMIT_CART_WINDOW" default:"1m"`
	CartLimit  int           `envconfig:"COMMONS_RATE_LIMIT_CART_LIMIT" default:"120"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COMMONS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COMMONS_AUTO_MIGRATE" default:"false"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"COMMONS_CRON_INTERVAL" default:"1h"`
	LockTTL         time.Duration `envconfig:"COMMONS_CRON_LOCK_TTL" default:"55m"`
	OutboxRetention time.Duration `envconfig:"COMMONS_CRON_OUTBOX_RETENTION" default:"720h"`
	OutboxBatchSize int           `envconfig:"COMMONS_CRON_OUTBOX_BATCH_SIZE" default:"500"`
	AuditPageSize   int           `envconfig:"COMMONS_CRON_AUDIT_PAGE_SIZE" default:"200"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"COMMONS_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"COMMONS_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"COMMONS_PUBSUB_ORDERS_TOPIC" default:"commons-order-events"`
	NotificationTopic string `envconfig:"COMMONS_PUBSUB_NOTIFICATION_TOPIC" default:"commons-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COMMONS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COMMONS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COMMONS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// MetricsPort exposes /metrics on the publisher process; empty disables it.
	MetricsPort string `envconfig:"COMMONS_OUTBOX_METRICS_PORT" default:"9091"`
}

func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"COMMONS_CORS_ALLOWED_ORIGINS" default:"*"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
	}
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:commonsportal.db?_busy_timeout=5000&_txlock=immediate"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
