package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/moldovadirect/cart-engine/pkg/config"
)

// Config holds all configuration for the cart engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort       int `env:"CART_HTTP_PORT" envDefault:"8004"`
	RateLimitRPS   int `env:"CART_RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int `env:"CART_RATE_LIMIT_BURST" envDefault:"20"`

	// Redis (primary storage tier)
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Badger (disk fallback tier). Empty disables the tier.
	BadgerPath string `env:"CART_BADGER_PATH" envDefault:"./data/cart"`

	// Persisted payload TTL on the Redis tier (default: 30 days).
	PayloadTTL time.Duration `env:"CART_PAYLOAD_TTL" envDefault:"720h"`

	// Catalog service
	CatalogBaseURL string `env:"CATALOG_BASE_URL" envDefault:"http://localhost:8001"`

	// Secure cart mutation endpoint. Empty disables the remote step.
	SecureEndpointURL string `env:"CART_SECURE_ENDPOINT_URL" envDefault:""`
	SecurityEnabled   bool   `env:"CART_SECURITY_ENABLED" envDefault:"false"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Background reconciliation
	BackgroundValidation bool          `env:"CART_BACKGROUND_VALIDATION" envDefault:"true"`
	ReconcileInterval    time.Duration `env:"CART_RECONCILE_INTERVAL" envDefault:"30s"`

	// Debounce windows for validation scheduling.
	AddDebounce    time.Duration `env:"CART_ADD_DEBOUNCE" envDefault:"100ms"`
	UpdateDebounce time.Duration `env:"CART_UPDATE_DEBOUNCE" envDefault:"500ms"`
	PersistDelay   time.Duration `env:"CART_PERSIST_DELAY" envDefault:"0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart engine config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.ReconcileInterval < time.Second {
		return fmt.Errorf("reconcile interval too short: %s", c.ReconcileInterval)
	}
	return nil
}
