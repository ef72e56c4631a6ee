// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/finsight/riskserve/internal/cache"
	"github.com/finsight/riskserve/internal/model"
	"github.com/finsight/riskserve/internal/policy"
	"github.com/finsight/riskserve/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Prediction cache
	CacheMaxEntries      int
	CacheTTL             time.Duration
	CacheCleanupInterval time.Duration

	// Decision policy thresholds
	LowRiskThreshold    float64
	MediumRiskThreshold float64
	StrongFactorImpact  float64
	StrongFactorCount   int

	// Inference service. When ModelEndpoint is empty the built-in
	// scorecard is used.
	ModelEndpoint string
	ModelVersion  string

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Security
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultCleanupInterval = 5 * time.Minute
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		CacheMaxEntries:      int(getEnvInt64("CACHE_MAX_ENTRIES", cache.DefaultMaxEntries)),
		CacheTTL:             time.Duration(getEnvInt64("CACHE_TTL_SECONDS", int64(cache.DefaultTTL/time.Second))) * time.Second,
		CacheCleanupInterval: time.Duration(getEnvInt64("CACHE_CLEANUP_SECONDS", int64(DefaultCleanupInterval/time.Second))) * time.Second,
		LowRiskThreshold:     getEnvFloat("LOW_RISK_THRESHOLD", policy.DefaultLowRiskThreshold),
		MediumRiskThreshold:  getEnvFloat("MEDIUM_RISK_THRESHOLD", policy.DefaultMediumRiskThreshold),
		StrongFactorImpact:   getEnvFloat("STRONG_FACTOR_IMPACT", policy.DefaultStrongFactorImpact),
		StrongFactorCount:    int(getEnvInt64("STRONG_FACTOR_COUNT", policy.DefaultStrongFactorCount)),
		ModelEndpoint:        os.Getenv("MODEL_ENDPOINT"),
		ModelVersion:         getEnv("MODEL_VERSION", model.ScorecardVersion),
		OTLPEndpoint:         os.Getenv("OTLP_ENDPOINT"),
		RateLimitRPS:         int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive, got %d", c.CacheMaxEntries)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %s", c.CacheTTL)
	}
	if c.CacheCleanupInterval <= 0 {
		return fmt.Errorf("CACHE_CLEANUP_SECONDS must be positive, got %s", c.CacheCleanupInterval)
	}

	if c.LowRiskThreshold <= 0 || c.LowRiskThreshold >= 1 {
		return fmt.Errorf("LOW_RISK_THRESHOLD must be in (0, 1), got %v", c.LowRiskThreshold)
	}
	if c.MediumRiskThreshold <= c.LowRiskThreshold || c.MediumRiskThreshold >= 1 {
		return fmt.Errorf("MEDIUM_RISK_THRESHOLD must be in (LOW_RISK_THRESHOLD, 1), got %v", c.MediumRiskThreshold)
	}
	if c.StrongFactorImpact <= 0 || c.StrongFactorImpact > 100 {
		return fmt.Errorf("STRONG_FACTOR_IMPACT must be in (0, 100], got %v", c.StrongFactorImpact)
	}
	if c.StrongFactorCount <= 0 {
		return fmt.Errorf("STRONG_FACTOR_COUNT must be positive, got %d", c.StrongFactorCount)
	}

	if c.ModelEndpoint != "" {
		if err := security.ValidateEndpointURL(c.ModelEndpoint); err != nil {
			return fmt.Errorf("MODEL_ENDPOINT is unsafe: %w", err)
		}
		if c.ModelVersion == "" {
			return fmt.Errorf("MODEL_VERSION must be set when MODEL_ENDPOINT is configured")
		}
	}

	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %d", c.RateLimitRPS)
	}

	return nil
}

// PolicyThresholds returns the decision engine cut points from this config.
func (c *Config) PolicyThresholds() policy.Thresholds {
	return policy.Thresholds{
		LowRiskThreshold:    c.LowRiskThreshold,
		MediumRiskThreshold: c.MediumRiskThreshold,
		StrongFactorImpact:  c.StrongFactorImpact,
		StrongFactorCount:   c.StrongFactorCount,
	}
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
