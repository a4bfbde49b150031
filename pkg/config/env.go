package config

const (
	EnvPrefix = "COMMONS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv   = "COMMONS_APP_ENV"
	EnvPort     = "COMMONS_APP_PORT"
	EnvLogLevel = "COMMONS_LOG_LEVEL"

	EnvDBDSN     = "COMMONS_DB_DSN"
	EnvDBDriver  = "COMMONS_DB_DRIVER"
	EnvDBHost    = "COMMONS_DB_HOST"
	EnvDBUser    = "COMMONS_DB_USER"
	EnvDBName    = "COMMONS_DB_NAME"
	EnvUseSQLite = "COMMONS_USE_SQLITE"

	EnvRedisURL = "COMMONS_REDIS_URL"

	EnvJWTSecret = "COMMONS_JWT_SECRET"
	EnvJWTIssuer = "COMMONS_JWT_ISSUER"

	EnvCheckoutMaxAttempts    = "COMMONS_CHECKOUT_MAX_ATTEMPTS"
	EnvCheckoutRetryBaseDelay = "COMMONS_CHECKOUT_RETRY_BASE_DELAY"

	EnvPubSubOrdersTopic = "COMMONS_PUBSUB_ORDERS_TOPIC"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
