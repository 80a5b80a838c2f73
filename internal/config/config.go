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

	// Custody settings
	CustodyWallet string // Facilitator wallet that receives escrowed payments
	Network       string // e.g. "base-sepolia"
	TokenContract string // Settlement token contract address

	// Payment Rail (the external service that moves funds on settlement)
	RailBaseURL string
	RailAPIKey  string
	RailTimeout time.Duration

	// External verification/analysis services
	ChainVerifierURL string // Empty disables on-chain confirmation (proof-trust only)
	AnalyzerURL      string // Dispute analyzer endpoint

	// Escrow policy
	DefaultAutoSettleMinutes int           // Hold window when a resource does not set one
	SweepInterval            time.Duration // Auto-settle sweep cadence

	// Security / observability
	RateLimitRPM int
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultNetwork           = "base-sepolia"
	DefaultAutoSettleWindow  = 60 // minutes
	DefaultSweepSeconds      = 60
	DefaultRailTimeoutSecond = 15
	DefaultRateLimit         = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CustodyWallet:            os.Getenv("CUSTODY_WALLET"),
		Network:                  getEnv("NETWORK", DefaultNetwork),
		TokenContract:            os.Getenv("TOKEN_CONTRACT"),
		RailBaseURL:              os.Getenv("RAIL_BASE_URL"),
		RailAPIKey:               os.Getenv("RAIL_API_KEY"),
		RailTimeout:              time.Duration(getEnvInt64("RAIL_TIMEOUT_SECONDS", DefaultRailTimeoutSecond)) * time.Second,
		ChainVerifierURL:         os.Getenv("CHAIN_VERIFIER_URL"),
		AnalyzerURL:              os.Getenv("ANALYZER_URL"),
		DefaultAutoSettleMinutes: int(getEnvInt64("DEFAULT_AUTO_SETTLE_MINUTES", DefaultAutoSettleWindow)),
		SweepInterval:            time.Duration(getEnvInt64("SWEEP_INTERVAL_SECONDS", DefaultSweepSeconds)) * time.Second,
		RateLimitRPM:             int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CustodyWallet == "" {
		return fmt.Errorf("CUSTODY_WALLET is required")
	}
	if len(c.CustodyWallet) != 42 || c.CustodyWallet[:2] != "0x" {
		return fmt.Errorf("CUSTODY_WALLET must be a 0x-prefixed 40-hex-char address")
	}
	if c.RailBaseURL == "" {
		return fmt.Errorf("RAIL_BASE_URL is required")
	}
	if c.DefaultAutoSettleMinutes <= 0 {
		return fmt.Errorf("DEFAULT_AUTO_SETTLE_MINUTES must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
