// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Matching tolerances
	ToleranceAbs    string // absolute payment tolerance in dollars (e.g. "1.00")
	TolerancePct    string // relative tolerance as a fraction (e.g. "0.01")
	MatchWindowDays int    // fuzzy match service-date window

	// Reconciliation
	AutoReconInterval time.Duration // 0 disables the background sweep

	// Remittance feed (optional Kafka consumer)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Security
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultToleranceAbs    = "1.00"
	DefaultTolerancePct    = "0.01"
	DefaultMatchWindowDays = 120
	DefaultRateLimit       = 100
	DefaultKafkaTopic      = "remittance.payments"
	DefaultKafkaGroupID    = "medledger-ingest"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ToleranceAbs:      getEnv("MATCH_TOLERANCE_ABS", DefaultToleranceAbs),
		TolerancePct:      getEnv("MATCH_TOLERANCE_PCT", DefaultTolerancePct),
		MatchWindowDays:   int(getEnvInt64("MATCH_WINDOW_DAYS", DefaultMatchWindowDays)),
		AutoReconInterval: getEnvDuration("AUTO_RECON_INTERVAL", 0),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", DefaultKafkaGroupID),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if _, err := strconv.ParseFloat(c.ToleranceAbs, 64); err != nil {
		return fmt.Errorf("MATCH_TOLERANCE_ABS must be a decimal number: %w", err)
	}
	pct, err := strconv.ParseFloat(c.TolerancePct, 64)
	if err != nil {
		return fmt.Errorf("MATCH_TOLERANCE_PCT must be a decimal number: %w", err)
	}
	if pct < 0 || pct > 1 {
		return fmt.Errorf("MATCH_TOLERANCE_PCT must be between 0 and 1")
	}
	if c.MatchWindowDays <= 0 {
		return fmt.Errorf("MATCH_WINDOW_DAYS must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
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

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
