package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/riskserve/internal/model"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 1000, cfg.CacheMaxEntries)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, DefaultCleanupInterval, cfg.CacheCleanupInterval)
	assert.Equal(t, 0.30, cfg.LowRiskThreshold)
	assert.Equal(t, 0.60, cfg.MediumRiskThreshold)
	assert.Equal(t, 15.0, cfg.StrongFactorImpact)
	assert.Equal(t, 3, cfg.StrongFactorCount)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
	assert.Empty(t, cfg.ModelEndpoint)
	assert.Equal(t, model.ScorecardVersion, cfg.ModelVersion)
}

func TestLoad_UnsafeModelEndpoint(t *testing.T) {
	setEnv(t, "MODEL_ENDPOINT", "http://127.0.0.1:9000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL_ENDPOINT")
}

func TestValidate_ModelEndpointNeedsVersion(t *testing.T) {
	cfg := Config{
		CacheMaxEntries:      1000,
		CacheTTL:             time.Hour,
		CacheCleanupInterval: 5 * time.Minute,
		LowRiskThreshold:     0.30,
		MediumRiskThreshold:  0.60,
		StrongFactorImpact:   15.0,
		StrongFactorCount:    3,
		RateLimitRPS:         100,
		ModelEndpoint:        "https://8.8.8.8:8501",
		ModelVersion:         "",
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL_VERSION")
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "CACHE_MAX_ENTRIES", "250")
	setEnv(t, "CACHE_TTL_SECONDS", "600")
	setEnv(t, "STRONG_FACTOR_COUNT", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250, cfg.CacheMaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 4, cfg.StrongFactorCount)
}

func TestLoad_InvalidCacheSize(t *testing.T) {
	setEnv(t, "CACHE_MAX_ENTRIES", "0")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_MAX_ENTRIES")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			CacheMaxEntries:      1000,
			CacheTTL:             time.Hour,
			CacheCleanupInterval: 5 * time.Minute,
			LowRiskThreshold:     0.30,
			MediumRiskThreshold:  0.60,
			StrongFactorImpact:   15.0,
			StrongFactorCount:    3,
			RateLimitRPS:         100,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero cache entries", func(c *Config) { c.CacheMaxEntries = 0 }, "CACHE_MAX_ENTRIES"},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, "CACHE_TTL_SECONDS"},
		{"zero cleanup", func(c *Config) { c.CacheCleanupInterval = 0 }, "CACHE_CLEANUP_SECONDS"},
		{"low threshold out of range", func(c *Config) { c.LowRiskThreshold = 0 }, "LOW_RISK_THRESHOLD"},
		{"thresholds out of order", func(c *Config) { c.MediumRiskThreshold = 0.25 }, "MEDIUM_RISK_THRESHOLD"},
		{"impact out of range", func(c *Config) { c.StrongFactorImpact = 101 }, "STRONG_FACTOR_IMPACT"},
		{"zero factor count", func(c *Config) { c.StrongFactorCount = 0 }, "STRONG_FACTOR_COUNT"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPS = 0 }, "RATE_LIMIT_RPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_PolicyThresholds(t *testing.T) {
	cfg := Config{
		LowRiskThreshold:    0.25,
		MediumRiskThreshold: 0.55,
		StrongFactorImpact:  20.0,
		StrongFactorCount:   2,
	}
	th := cfg.PolicyThresholds()
	assert.Equal(t, 0.25, th.LowRiskThreshold)
	assert.Equal(t, 0.55, th.MediumRiskThreshold)
	assert.Equal(t, 20.0, th.StrongFactorImpact)
	assert.Equal(t, 2, th.StrongFactorCount)
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}
