// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// External rails
	StripeAPIKey   string        // Secret key for the gateway/payout adapters
	RailTimeout    time.Duration // Per-call timeout on gateway and payout requests
	PayoutInterval time.Duration // Minimum spacing between payout-rail transfers in a batch

	// Notifications
	NotifyURL string // Platform notification service endpoint (optional)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
	RateLimitRPM int

	// Reconciliation
	DriftThreshold string // NGN amount above which wallet drift alerts
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultRailTimeout    = 15 * time.Second
	DefaultPayoutInterval = 2 * time.Second
	DefaultRateLimitRPM   = 120
	DefaultDriftThreshold = "1.00"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:   os.Getenv("STRIPE_API_KEY"),
		RailTimeout:    getEnvDuration("RAIL_TIMEOUT", DefaultRailTimeout),
		PayoutInterval: getEnvDuration("PAYOUT_INTERVAL", DefaultPayoutInterval),
		NotifyURL:      os.Getenv("NOTIFY_URL"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		DriftThreshold: getEnv("DRIFT_THRESHOLD", DefaultDriftThreshold),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.IsProduction() && c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required in production")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	if c.RailTimeout <= 0 {
		return fmt.Errorf("RAIL_TIMEOUT must be positive")
	}
	if c.PayoutInterval < 0 {
		return fmt.Errorf("PAYOUT_INTERVAL must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
