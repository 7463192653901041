/*
Package config loads service configuration from the environment.

All knobs come from ENTITLEMENT_-prefixed variables, e.g.
ENTITLEMENT_PORT, ENTITLEMENT_DATABASE_URL. cmd/server exposes flag
overrides for local runs.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the server needs to start.
type Config struct {
	// Port the HTTP server listens on.
	Port int `envconfig:"PORT" default:"8080"`

	// DatabaseURL selects the store: a postgres:// URL, or a SQLite file
	// path (":memory:" works for local runs).
	DatabaseURL string `envconfig:"DATABASE_URL" default:"entitlement.db"`

	// WebhookSecret is the shared secret for payment-webhook signatures.
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" required:"true"`

	// WebhookTolerance bounds how old a signed webhook timestamp may be.
	WebhookTolerance time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`

	// AuthSecret verifies bearer tokens minted by the session service.
	AuthSecret string `envconfig:"AUTH_SECRET" required:"true"`

	// AllowedOrigins for CORS, comma-separated.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("entitlement", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants envconfig tags cannot express.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WebhookTolerance <= 0 {
		return fmt.Errorf("webhook tolerance must be positive")
	}
	if len(c.WebhookSecret) < 16 {
		return fmt.Errorf("webhook secret too short")
	}
	if len(c.AuthSecret) < 16 {
		return fmt.Errorf("auth secret too short")
	}
	return nil
}

// UsesPostgres reports whether DatabaseURL points at PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}
