package config

// EnvPrefix is handed to envconfig; every field also carries its full
// variable name so lookups work with or without the prefix.
const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvUseSQLite   = "STOREFRONT_USE_SQLITE"
	EnvAutoMigrate = "STOREFRONT_AUTO_MIGRATE"

	EnvPaymentsSignatureSecret = "STOREFRONT_PAYMENTS_SIGNATURE_SECRET"
	EnvPaymentsRetryCooldown   = "STOREFRONT_PAYMENTS_RETRY_COOLDOWN"

	EnvPricingTaxRate       = "STOREFRONT_PRICING_TAX_RATE"
	EnvPricingShippingRates = "STOREFRONT_PRICING_SHIPPING_RATES"
	EnvPricingDefault       = "STOREFRONT_PRICING_DEFAULT_SHIPPING"

	EnvFraudBlockedIPs = "STOREFRONT_FRAUD_BLOCKED_IPS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
