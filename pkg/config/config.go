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
	FeatureFlags FeatureFlagsConfig
	Square       SquareConfig
	Payments     PaymentsConfig
	Pricing      PricingConfig
	Cart         CartConfig
	Fraud        FraudConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
	// MetricsAddr exposes /metrics from the workers; blank disables it.
	MetricsAddr string `envconfig:"STOREFRONT_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers verification of admin bearer tokens. Tokens are minted by
// the identity service; this backend only checks them.
type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	Audience          string `envconfig:"STOREFRONT_JWT_AUDIENCE" default:"storefront-admin"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"STOREFRONT_SQUARE_ACCESS_TOKEN"`
	Env           string `envconfig:"STOREFRONT_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"STOREFRONT_SQUARE_LOCATION_ID"`
	ApplicationID string `envconfig:"STOREFRONT_SQUARE_APPLICATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentsConfig struct {
	SignatureSecret string        `envconfig:"STOREFRONT_PAYMENTS_SIGNATURE_SECRET" required:"true"`
	Currency        string        `envconfig:"STOREFRONT_PAYMENTS_CURRENCY" default:"INR"`
	IdempotencyTTL  time.Duration `envconfig:"STOREFRONT_PAYMENTS_IDEMPOTENCY_TTL" default:"24h"`
	MaxRetries      int           `envconfig:"STOREFRONT_PAYMENTS_MAX_RETRIES" default:"3"`
	RetryCooldown   time.Duration `envconfig:"STOREFRONT_PAYMENTS_RETRY_COOLDOWN" default:"30m"`
	StaleAfter      time.Duration `envconfig:"STOREFRONT_PAYMENTS_STALE_AFTER" default:"15m"`
	ArchiveAfter    time.Duration `envconfig:"STOREFRONT_PAYMENTS_ARCHIVE_AFTER" default:"168h"`
	BatchSize       int           `envconfig:"STOREFRONT_PAYMENTS_BATCH_SIZE" default:"50"`

	GatewayTimeout          time.Duration `envconfig:"STOREFRONT_PAYMENTS_GATEWAY_TIMEOUT" default:"10s"`
	BreakerFailureThreshold uint32        `envconfig:"STOREFRONT_PAYMENTS_BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout      time.Duration `envconfig:"STOREFRONT_PAYMENTS_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// PricingConfig is read once at startup and handed to the order service as an
// immutable snapshot.
type PricingConfig struct {
	TaxRate               string           `envconfig:"STOREFRONT_PRICING_TAX_RATE" default:"0.18"`
	ShippingRates         map[string]int64 `envconfig:"STOREFRONT_PRICING_SHIPPING_RATES" default:"standard:4900,express:9900,pickup:0"`
	DefaultShippingMethod string           `envconfig:"STOREFRONT_PRICING_DEFAULT_SHIPPING" default:"standard"`
}

func (p PricingConfig) validate() error {
	if strings.TrimSpace(p.TaxRate) == "" {
		return fmt.Errorf("%s is required", EnvPricingTaxRate)
	}
	if len(p.ShippingRates) == 0 {
		return fmt.Errorf("%s must list at least one method", EnvPricingShippingRates)
	}
	if _, ok := p.ShippingRates[p.DefaultShippingMethod]; !ok {
		return fmt.Errorf("default shipping method %q missing from %s", p.DefaultShippingMethod, EnvPricingShippingRates)
	}
	for method, amount := range p.ShippingRates {
		if amount < 0 {
			return fmt.Errorf("shipping rate for %q must be >= 0", method)
		}
	}
	return nil
}

type CartConfig struct {
	TTL        time.Duration `envconfig:"STOREFRONT_CART_TTL" default:"168h"`
	CookieName string        `envconfig:"STOREFRONT_CART_COOKIE" default:"sf_cart"`
}

type FraudConfig struct {
	HighAmountMinor   int64         `envconfig:"STOREFRONT_FRAUD_HIGH_AMOUNT_MINOR" default:"5000000"`
	BlockedIPs        []string      `envconfig:"STOREFRONT_FRAUD_BLOCKED_IPS"`
	HighRiskBINs      []string      `envconfig:"STOREFRONT_FRAUD_HIGH_RISK_BINS"`
	DisposableDomains []string      `envconfig:"STOREFRONT_FRAUD_DISPOSABLE_DOMAINS" default:"mailinator.com,guerrillamail.com,10minutemail.com,tempmail.com"`
	VelocityWindow    time.Duration `envconfig:"STOREFRONT_FRAUD_VELOCITY_WINDOW" default:"1h"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `envconfig:"STOREFRONT_RATE_LIMIT_RPS" default:"5"`
	Burst             int           `envconfig:"STOREFRONT_RATE_LIMIT_BURST" default:"20"`
	IdleTTL           time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_IDLE_TTL" default:"10m"`

	// Verify callbacks are throttled separately through Redis counters.
	CallbackWindow       time.Duration `envconfig:"STOREFRONT_CALLBACK_WINDOW" default:"1m"`
	CallbackIPLimit      int           `envconfig:"STOREFRONT_CALLBACK_IP_LIMIT" default:"30"`
	CallbackPaymentLimit int           `envconfig:"STOREFRONT_CALLBACK_PAYMENT_LIMIT" default:"5"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
}

// PubSubConfig routes outbox events by aggregate. Payment and inventory
// events fall back to DomainTopic when their topic is unset.
type PubSubConfig struct {
	DomainTopic    string `envconfig:"STOREFRONT_PUBSUB_DOMAIN_TOPIC" default:"sf-domain-events"`
	PaymentTopic   string `envconfig:"STOREFRONT_PUBSUB_PAYMENT_TOPIC"`
	InventoryTopic string `envconfig:"STOREFRONT_PUBSUB_INVENTORY_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"STOREFRONT_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"4m"`
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
