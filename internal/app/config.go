package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI       string        `default:"mongodb://localhost:27017" usage:"MongoDB URI of the pricing cache" flag:"mongo-uri"`
	MongoDatabase  string        `default:"catalog" usage:"MongoDB database of the pricing cache" flag:"mongo-database"`
	RedisAddr      string        `default:"localhost:6379" usage:"Redis address for the coupon cache and rate limits" flag:"redis-addr"`
	CouponCacheTTL time.Duration `default:"10m" usage:"Upper bound for cached coupons" flag:"coupon-cache-ttl"`
	Kafka          KafkaConfig
	Stripe         StripeConfig
	Auth           AuthConfig
	Pricing        PricingConfig
	RateLimit      RateLimitConfig
	Graceful       GracefulConfig
}

// KafkaConfig selects the brokers and topic for order events.
type KafkaConfig struct {
	Brokers []string `default:"localhost:9092" usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"order" usage:"Topic for order events"`
}

// StripeConfig configures the payment gateway.
type StripeConfig struct {
	SecretKey     string `usage:"Stripe secret API key" flag:"stripe-secret-key"`
	WebhookSecret string `usage:"Stripe webhook signing secret" flag:"stripe-webhook-secret"`
	SuccessURL    string `default:"http://localhost:3000/payment" usage:"Checkout success redirect URL" flag:"stripe-success-url"`
	CancelURL     string `default:"http://localhost:3000/payment" usage:"Checkout cancel redirect URL" flag:"stripe-cancel-url"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret of access tokens" flag:"jwt-secret"`
}

// PricingConfig holds the order-level pricing constants.
type PricingConfig struct {
	TaxPercent  string `default:"18" usage:"Tax percentage applied after discount" flag:"tax-percent"`
	DeliveryFee int64  `default:"100" usage:"Delivery fee in minor units" flag:"delivery-fee"`
	Currency    string `default:"inr" usage:"ISO currency code of payment sessions"`
}

// RateLimitConfig controls the per-subject rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("jwt secret is required: set ORDERS_AUTH_JWT_SECRET")
	case c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "":
		return errors.New("stripe secret key and webhook secret are required")
	case len(c.Kafka.Brokers) == 0:
		return errors.New("at least one kafka broker is required")
	}
	if _, err := c.Pricing.taxPercent(); err != nil {
		return err
	}
	return nil
}

func (p PricingConfig) taxPercent() (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(p.TaxPercent)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse tax percent %q", p.TaxPercent)
	}
	if pct.IsNegative() {
		return decimal.Decimal{}, errors.Errorf("tax percent %s is negative", pct)
	}
	return pct, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the ORDERS_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
