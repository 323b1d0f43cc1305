// Package config loads creditsd settings from a YAML file, the
// environment (CREDITS_ prefix, dots become underscores) and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/types"
	"github.com/DimensionCoin/credits/user"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Clerk     ClerkConfig     `mapstructure:"clerk"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds requests per authenticated user. RPS <= 0
// disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the persistence backend: memory, mongo, sqlite or
// postgres.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type StripeConfig struct {
	SecretKey     string       `mapstructure:"secret_key"`
	WebhookSecret string       `mapstructure:"webhook_secret"`
	PriceBasic    string       `mapstructure:"price_basic"`
	Plans         []PlanConfig `mapstructure:"plans"`

	// Checkout redirects. Stripe substitutes {CHECKOUT_SESSION_ID}.
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
	PortalURL  string `mapstructure:"portal_url"`
}

// PlanConfig is one catalog entry. PriceCents is display-only.
type PlanConfig struct {
	PriceID    string `mapstructure:"price_id"`
	Name       string `mapstructure:"name"`
	Tier       string `mapstructure:"tier"`
	Credits    int64  `mapstructure:"credits"`
	PriceCents int64  `mapstructure:"price_cents"`
	Currency   string `mapstructure:"currency"`
}

type ClerkConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// AuthConfig configures bearer-token verification for the HTTP API.
type AuthConfig struct {
	JWKSURL  string `mapstructure:"jwks_url"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type LedgerConfig struct {
	HistoryCapacity     int           `mapstructure:"history_capacity"`
	StrictEventOrdering bool          `mapstructure:"strict_event_ordering"`
	HookTimeout         time.Duration `mapstructure:"hook_timeout"`
}

// Load reads configuration. path may be empty, in which case credits.yaml
// is looked up in the working directory and /etc/credits, and a missing
// file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREDITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("credits")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/credits")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "credits")
	v.SetDefault("store.sqlite.path", "./credits.db")
	v.SetDefault("store.postgres.dsn", "")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.price_basic", "")
	v.SetDefault("stripe.success_url", "http://localhost:3000/payments/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancel_url", "http://localhost:3000/payments/cancel")
	v.SetDefault("stripe.portal_url", "")
	v.SetDefault("clerk.webhook_secret", "")

	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("ledger.history_capacity", user.HistoryCapacity)
	v.SetDefault("ledger.strict_event_ordering", false)
	v.SetDefault("ledger.hook_timeout", 5*time.Second)
}

// bindLegacyEnv accepts the unprefixed variable names deployments already
// carry.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("stripe.secret_key", "CREDITS_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY")
	_ = v.BindEnv("stripe.webhook_secret", "CREDITS_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET")
	_ = v.BindEnv("stripe.price_basic", "CREDITS_STRIPE_PRICE_BASIC", "STRIPE_PRICE_BASIC")
	_ = v.BindEnv("stripe.portal_url", "CREDITS_STRIPE_PORTAL_URL", "NEXT_PUBLIC_STRIPE_CUSTOMER_PORTAL")
	_ = v.BindEnv("clerk.webhook_secret", "CREDITS_CLERK_WEBHOOK_SECRET", "CLERK_WEBHOOK_SECRET", "WEBHOOK_SECRET")
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory", "mongo", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.Postgres.DSN == "" {
		errs = append(errs, errors.New("store.postgres.dsn: required for the postgres driver"))
	}
	if c.Ledger.HistoryCapacity <= 0 || c.Ledger.HistoryCapacity > user.HistoryCapacity {
		errs = append(errs, fmt.Errorf("ledger.history_capacity: must be between 1 and %d", user.HistoryCapacity))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst: must be positive when rps is set"))
	}
	if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Catalog builds the plan catalog from stripe.plans plus the
// stripe.price_basic shortcut, which maps one price to the basic tier.
func (c *Config) Catalog() (*plan.Catalog, error) {
	plans := make([]plan.Plan, 0, len(c.Stripe.Plans)+1)
	seen := make(map[string]bool, len(c.Stripe.Plans))

	for _, pc := range c.Stripe.Plans {
		p := plan.Plan{
			PriceID: pc.PriceID,
			Name:    pc.Name,
			Tier:    user.Tier(pc.Tier),
			Credits: pc.Credits,
		}
		if pc.PriceCents > 0 {
			currency := pc.Currency
			if currency == "" {
				currency = "usd"
			}
			p.Price = types.NewMoney(pc.PriceCents, currency)
		}
		plans = append(plans, p)
		seen[pc.PriceID] = true
	}

	if id := strings.TrimSpace(c.Stripe.PriceBasic); id != "" && !seen[id] {
		plans = append(plans, plan.Basic(id))
	}

	cat, err := plan.NewCatalog(plans...)
	if err != nil {
		return nil, fmt.Errorf("stripe.plans: %w", err)
	}
	return cat, nil
}
