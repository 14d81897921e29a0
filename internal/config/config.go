// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Payments PaymentsConfig
	Notify   NotifyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"participation"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GatewayConfig holds payment gateway API settings.
type GatewayConfig struct {
	BaseURL            string        `env:"GATEWAY_BASE_URL"`
	APIKey             string        `env:"GATEWAY_API_KEY"`
	Timeout            time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	WebhookSecret      string        `env:"GATEWAY_WEBHOOK_SECRET"`
	SignatureTolerance time.Duration `env:"GATEWAY_SIGNATURE_TOLERANCE" envDefault:"5m"`
}

// PaymentsConfig holds payment flow settings.
type PaymentsConfig struct {
	// SuccessRedirectBase is where the gateway sends the member after
	// checkout. Deployment configuration, never discovered at runtime.
	SuccessRedirectBase string        `env:"SUCCESS_REDIRECT_BASE" envDefault:"http://localhost:3000"`
	PendingTTL          time.Duration `env:"PAYMENT_PENDING_TTL" envDefault:"30m"`
	SweepInterval       time.Duration `env:"PAYMENT_SWEEP_INTERVAL" envDefault:"10m"`
}

// NotifyConfig holds notification service settings. An empty BaseURL
// selects the log-only dispatcher.
type NotifyConfig struct {
	BaseURL string        `env:"NOTIFY_BASE_URL"`
	APIKey  string        `env:"NOTIFY_API_KEY"`
	Timeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required")
	}
	if c.Payments.PendingTTL <= 0 {
		return fmt.Errorf("PAYMENT_PENDING_TTL must be positive")
	}
	return nil
}
