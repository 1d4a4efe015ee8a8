package configuration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Providers, 3)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.RateLimit.Global.Enabled)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"no providers", func(c *Config) { c.Providers = nil }, ErrNoProviders},
		{"bad weight", func(c *Config) {
			p := c.Providers["openai"]
			p.Weight = 1.5
			c.Providers["openai"] = p
		}, ErrInvalidProviderCfg},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, ErrInvalidRetry},
		{"inverted intervals", func(c *Config) { c.Retry.MaxInterval = c.Retry.InitialInterval / 2 }, ErrInvalidRetry},
		{"shrinking multiplier", func(c *Config) { c.Retry.Multiplier = 0.5 }, ErrInvalidRetry},
		{"zero local rate", func(c *Config) { c.RateLimit.Local.TokensPerSecond = 0 }, ErrInvalidRateLimit},
		{"global without rate", func(c *Config) {
			c.RateLimit.Global.Enabled = true
			c.RateLimit.Global.RequestsPerSecond = 0
		}, ErrInvalidRateLimit},
		{"breaker without failure threshold", func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 }, ErrInvalidBreaker},
		{"breaker without open timeout", func(c *Config) { c.CircuitBreaker.OpenTimeout = 0 }, ErrInvalidBreaker},
		{"breaker without half-open slots", func(c *Config) { c.CircuitBreaker.HalfOpenRequests = 0 }, ErrInvalidBreaker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestDisabledBreakerSkipsValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitBreaker = CircuitBreakerConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("DISCOVER_TEST_KEY", "from-env")
	assert.Equal(t, "inline", ProviderConfig{APIKey: "inline", APIKeyEnv: "DISCOVER_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "from-env", ProviderConfig{APIKeyEnv: "DISCOVER_TEST_KEY"}.ResolveAPIKey())
	assert.Empty(t, ProviderConfig{}.ResolveAPIKey())
}
