package config

const EnvPrefix = "SCHOLARMARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	EnvAppEnv            = "SCHOLARMARKET_APP_ENV"
	EnvPort              = "SCHOLARMARKET_APP_PORT"
	EnvDBDriver          = "SCHOLARMARKET_DB_DRIVER"
	EnvDBDSN             = "SCHOLARMARKET_DB_DSN"
	EnvJWTSecret         = "SCHOLARMARKET_JWT_SECRET"
	EnvAuthorPercent     = "SCHOLARMARKET_AUTHOR_PERCENT"
	EnvPlatformAccountID = "SCHOLARMARKET_PLATFORM_ACCOUNT_ID"
	EnvAdminIDs          = "SCHOLARMARKET_ADMIN_IDS"
)
