// Package config loads the console's runtime settings from AGORA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const prefix = "AGORA"

// Config holds runtime configuration for the API server.
type Config struct {
	Env          string        `envconfig:"ENV" default:"development"`
	Addr         string        `envconfig:"ADDR" default:":8080"`
	GRPCAddr     string        `envconfig:"GRPC_ADDR"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"0s"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	AuthSecret string `envconfig:"AUTH_SECRET" required:"true"`

	AuthzURL        string        `envconfig:"AUTHZ_URL"`
	AuthzAPIKey     string        `envconfig:"AUTHZ_API_KEY"`
	AuthzGRPCTarget string        `envconfig:"AUTHZ_GRPC_TARGET"`
	AuthzTimeout    time.Duration `envconfig:"AUTHZ_TIMEOUT" default:"5s"`
	AuthzDedupe     bool          `envconfig:"AUTHZ_DEDUPE" default:"false"`

	RateBurst    int   `envconfig:"RATE_BURST" default:"20"`
	RatePerSec   int   `envconfig:"RATE_PER_SEC" default:"10"`
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	DelegationSweep time.Duration `envconfig:"DELEGATION_SWEEP" default:"1m"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("auth secret must be provided")
	}
	if c.AuthzURL != "" && c.AuthzGRPCTarget != "" {
		return errors.New("set only one of AGORA_AUTHZ_URL and AGORA_AUTHZ_GRPC_TARGET")
	}
	if c.AuthzTimeout <= 0 {
		return fmt.Errorf("authz timeout must be positive, got %s", c.AuthzTimeout)
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("rate limit burst and rate must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}

// IsProduction returns true when the server runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// DevTokens reports whether the unauthenticated token minting endpoint is served.
func (c *Config) DevTokens() bool {
	return c != nil && !c.IsProduction()
}
