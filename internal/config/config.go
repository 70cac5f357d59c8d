// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ProviderCreds is the OAuth2 application registration for one upstream
// provider. A provider with empty credentials is not served.
type ProviderCreds struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether the provider is configured.
func (p ProviderCreds) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr    string `env:"SSO_HTTP_ADDR" envDefault:":7042"`
	GRPCAddr    string `env:"SSO_GRPC_ADDR" envDefault:":7043"`
	DatabaseURL string `env:"SSO_DATABASE_URL"`

	AuditRetention     time.Duration `env:"SSO_AUDIT_RETENTION" envDefault:"720h"`
	AuditSweepInterval time.Duration `env:"SSO_AUDIT_SWEEP_INTERVAL" envDefault:"1h"`

	ProviderTimeout time.Duration `env:"SSO_PROVIDER_TIMEOUT" envDefault:"10s"`

	RateLimitRPS    float64       `env:"SSO_RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst  int           `env:"SSO_RATE_LIMIT_BURST" envDefault:"20"`
	MaxBodyBytes    int64         `env:"SSO_MAX_BODY_BYTES" envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"SSO_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	GitHub    ProviderCreds `envPrefix:"SSO_GITHUB_"`
	Microsoft ProviderCreds `envPrefix:"SSO_MICROSOFT_"`
}

// Load parses the environment and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: SSO_DATABASE_URL is required")
	}
	if cfg.AuditRetention <= 0 {
		return nil, errors.New("config: SSO_AUDIT_RETENTION must be positive")
	}
	return cfg, nil
}
