package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Market       MarketConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Market.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SCHOLARMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"SCHOLARMARKET_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SCHOLARMARKET_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SCHOLARMARKET_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SCHOLARMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	Driver string `envconfig:"SCHOLARMARKET_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"SCHOLARMARKET_DB_DSN" default:"works.db"`

	// BusyTimeout is handed to SQLite so writers wait on each other instead of failing fast.
	BusyTimeout time.Duration `envconfig:"SCHOLARMARKET_DB_BUSY_TIMEOUT" default:"5s"`

	MaxOpenConns    int           `envconfig:"SCHOLARMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SCHOLARMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SCHOLARMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SCHOLARMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

func (db *DBConfig) validate() error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	switch db.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvDBDriver, DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(db.DSN) == "" {
		return fmt.Errorf("%s is required", EnvDBDSN)
	}
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"SCHOLARMARKET_REDIS_URL"`
	Address      string        `envconfig:"SCHOLARMARKET_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"SCHOLARMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"SCHOLARMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SCHOLARMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SCHOLARMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SCHOLARMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SCHOLARMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SCHOLARMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SCHOLARMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SCHOLARMARKET_JWT_ISSUER" default:"scholarmarket"`
	ExpirationMinutes int    `envconfig:"SCHOLARMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

// MarketConfig holds the marketplace business parameters.
type MarketConfig struct {
	AuthorPercent      string        `envconfig:"SCHOLARMARKET_AUTHOR_PERCENT" default:"0.7"`
	PlatformAccountID  int64         `envconfig:"SCHOLARMARKET_PLATFORM_ACCOUNT_ID" default:"1"`
	AdminIDs           string        `envconfig:"SCHOLARMARKET_ADMIN_IDS"`
	PlatformRequisites string        `envconfig:"SCHOLARMARKET_PLATFORM_REQUISITES"`
	SettlementKeyword  string        `envconfig:"SCHOLARMARKET_SETTLEMENT_KEYWORD" default:"900"`
	LockAttempts       uint64        `envconfig:"SCHOLARMARKET_LOCK_ATTEMPTS" default:"5"`
	LockBaseDelay      time.Duration `envconfig:"SCHOLARMARKET_LOCK_BASE_DELAY" default:"20ms"`
	LockTTL            time.Duration `envconfig:"SCHOLARMARKET_LOCK_TTL" default:"30s"`
	SessionTTL         time.Duration `envconfig:"SCHOLARMARKET_SUBMISSION_SESSION_TTL" default:"24h"`

	authorPercent decimal.Decimal
	adminIDs      []int64
}

// AuthorShare returns the parsed author fraction of every sale.
func (m MarketConfig) AuthorShare() decimal.Decimal {
	return m.authorPercent
}

// Admins returns the parsed administrator ids.
func (m MarketConfig) Admins() []int64 {
	if m.adminIDs == nil {
		ids, _ := ParseAdminIDs(m.AdminIDs)
		return ids
	}
	out := make([]int64, len(m.adminIDs))
	copy(out, m.adminIDs)
	return out
}

func (m *MarketConfig) validate() error {
	pct, err := decimal.NewFromString(strings.TrimSpace(m.AuthorPercent))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvAuthorPercent, err)
	}
	if pct.LessThan(decimal.Zero) || pct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0,1]", EnvAuthorPercent)
	}
	m.authorPercent = pct

	ids, err := ParseAdminIDs(m.AdminIDs)
	if err != nil {
		return err
	}
	m.adminIDs = ids

	if m.PlatformAccountID <= 0 {
		return fmt.Errorf("%s must be positive", EnvPlatformAccountID)
	}
	if m.LockAttempts == 0 {
		m.LockAttempts = 1
	}
	return nil
}

// ParseAdminIDs parses a comma separated list of chat user ids.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid admin id %q", EnvAdminIDs, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type FeatureFlagsConfig struct {
	AutoMigrate  bool `envconfig:"SCHOLARMARKET_AUTO_MIGRATE" default:"false"`
	UseRedisLock bool `envconfig:"SCHOLARMARKET_USE_REDIS_LOCK" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL       time.Duration `envconfig:"SCHOLARMARKET_IDEMPOTENCY_TTL" default:"24h"`
	NotificationDedupTTL time.Duration `envconfig:"SCHOLARMARKET_NOTIFICATION_DEDUP_TTL" default:"72h"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"SCHOLARMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"SCHOLARMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"SCHOLARMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Channel        string `envconfig:"SCHOLARMARKET_OUTBOX_CHANNEL" default:"scholarmarket:events"`
	MetricsAddr    string `envconfig:"SCHOLARMARKET_OUTBOX_METRICS_ADDR"`
}
