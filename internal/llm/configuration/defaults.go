package configuration

import "time"

// HTTP constants.
const (
	DefaultHTTPTimeoutSeconds = 30
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
)

// Retry constants.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 45 * time.Second
	DefaultInitialInterval   = 250 * time.Millisecond
	DefaultMaxInterval       = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
	DefaultMaxWait         = 2 * time.Second
)

// Circuit breaker constants.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 1
	DefaultOpenTimeout      = 30 * time.Second
	DefaultHalfOpenRequests = 1
	DefaultTrialGuardTTL    = time.Minute
	DefaultMaxBreakers      = 100
)

// Cache constants.
const (
	DefaultCacheTTL = 24 * time.Hour
)

// Default provider reliability weights.
const (
	DefaultOpenAIWeight    = 1.0
	DefaultAnthropicWeight = 1.0
	DefaultGoogleWeight    = 0.9
)

// DefaultConfig returns configuration with sensible production defaults.
// Provider API keys are read from the conventional environment variables.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers: map[string]ProviderConfig{
			"openai": {
				APIKeyEnv: "OPENAI_API_KEY",
				Model:     "gpt-4o-mini",
				Weight:    DefaultOpenAIWeight,
			},
			"anthropic": {
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Model:     "claude-3-5-haiku-latest",
				Weight:    DefaultAnthropicWeight,
			},
			"google": {
				APIKeyEnv: "GOOGLE_API_KEY",
				Model:     "gemini-1.5-flash",
				Weight:    DefaultGoogleWeight,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				Enabled:         true,
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
				MaxWait:         DefaultMaxWait,
			},
			Global: GlobalRateLimitConfig{
				RequestsPerSecond: DefaultTokensPerSecond,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			OpenTimeout:      DefaultOpenTimeout,
			HalfOpenRequests: DefaultHalfOpenRequests,
			TrialGuardTTL:    DefaultTrialGuardTTL,
			MaxBreakers:      DefaultMaxBreakers,
		},
		Cache: CacheConfig{
			TTL: DefaultCacheTTL,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			RedactPrompts: true,
		},
	}
}
