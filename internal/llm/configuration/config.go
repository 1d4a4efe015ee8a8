// Package configuration holds the settings for the LLM transport: providers,
// retry policy, rate limits, response cache and observability.
package configuration

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Config holds the complete configuration for the LLM client.
type Config struct {
	HTTPTimeout time.Duration `yaml:"http_timeout" mapstructure:"http_timeout" json:"http_timeout"`
	HTTPClient  *http.Client  `yaml:"-"            mapstructure:"-"            json:"-"`

	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers" json:"providers"`

	Retry          RetryConfig          `yaml:"retry"           mapstructure:"retry"           json:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"      mapstructure:"rate_limit"      json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker" json:"circuit_breaker"`
	Cache          CacheConfig          `yaml:"cache"           mapstructure:"cache"           json:"cache"`
	Observability  ObservabilityConfig  `yaml:"observability"   mapstructure:"observability"   json:"observability"`
}

// ProviderConfig holds provider-specific configuration and authentication.
type ProviderConfig struct {
	Endpoint  string            `yaml:"endpoint"    mapstructure:"endpoint"    json:"endpoint"`
	APIKey    string            `yaml:"-"           mapstructure:"api_key"     json:"-"` // Sensitive, not serialized
	APIKeyEnv string            `yaml:"api_key_env" mapstructure:"api_key_env" json:"api_key_env"`
	Model     string            `yaml:"model"       mapstructure:"model"       json:"model"`
	Timeout   time.Duration     `yaml:"timeout"     mapstructure:"timeout"     json:"timeout"`
	Headers   map[string]string `yaml:"headers"     mapstructure:"headers"     json:"headers"`

	// Weight is the provider's reliability weight in (0,1] used when
	// computing probe confidence.
	Weight float64 `yaml:"weight" mapstructure:"weight" json:"weight"`
}

// ResolveAPIKey returns the inline key or reads it from APIKeyEnv.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// RetryConfig controls retry behavior for failed LLM operations.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"     mapstructure:"max_attempts"     json:"max_attempts"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" mapstructure:"max_elapsed_time" json:"max_elapsed_time"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"     mapstructure:"max_interval"     json:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"       mapstructure:"multiplier"       json:"multiplier"`
	UseJitter       bool          `yaml:"use_jitter"       mapstructure:"use_jitter"       json:"use_jitter"`
}

// RateLimitConfig combines an in-process token bucket with an optional
// Redis fixed window shared by every process.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `yaml:"local"  mapstructure:"local"  json:"local"`
	Global GlobalRateLimitConfig `yaml:"global" mapstructure:"global" json:"global"`
}

// LocalRateLimitConfig for in-memory token buckets keyed by provider/model.
type LocalRateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"           mapstructure:"enabled"           json:"enabled"`
	TokensPerSecond float64 `yaml:"tokens_per_second" mapstructure:"tokens_per_second" json:"tokens_per_second"`
	BurstSize       int     `yaml:"burst_size"        mapstructure:"burst_size"        json:"burst_size"`
	// MaxWait is how long a caller may block for a token before the
	// request is rejected with a RateLimitError.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait" json:"max_wait"`
}

// GlobalRateLimitConfig for the Redis fixed-window limiter.
type GlobalRateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"             json:"enabled"`
	RequestsPerSecond int    `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second"`
	RedisAddr         string `yaml:"redis_addr"          mapstructure:"redis_addr"          json:"redis_addr"`
	RedisPassword     string `yaml:"-"                   mapstructure:"redis_password"      json:"-"`
	RedisDB           int    `yaml:"redis_db"            mapstructure:"redis_db"            json:"redis_db"`
}

// CircuitBreakerConfig controls the per provider/model breaker that stops
// calls to a provider after consecutive failures.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold" json:"success_threshold"`
	// OpenTimeout is how long the circuit stays open before admitting trial requests.
	OpenTimeout time.Duration `yaml:"open_timeout" mapstructure:"open_timeout" json:"open_timeout"`
	// HalfOpenRequests bounds concurrent trial requests while half-open.
	HalfOpenRequests int `yaml:"half_open_requests" mapstructure:"half_open_requests" json:"half_open_requests"`
	// TrialGuardTTL bounds the Redis lock that lets one process at a time
	// send a half-open trial. Unused without Redis.
	TrialGuardTTL time.Duration `yaml:"trial_guard_ttl" mapstructure:"trial_guard_ttl" json:"trial_guard_ttl"`
	// MaxBreakers caps the number of tracked keys; keys beyond it are not guarded.
	MaxBreakers int `yaml:"max_breakers" mapstructure:"max_breakers" json:"max_breakers"`
}

// CacheConfig controls Redis-based response caching.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"    mapstructure:"enabled"        json:"enabled"`
	TTL           time.Duration `yaml:"ttl"        mapstructure:"ttl"            json:"ttl"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"     json:"redis_addr"`
	RedisPassword string        `yaml:"-"          mapstructure:"redis_password" json:"-"`
	RedisDB       int           `yaml:"redis_db"   mapstructure:"redis_db"       json:"redis_db"`
}

// ObservabilityConfig controls structured logging of LLM calls.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level"      mapstructure:"log_level"      json:"log_level"`
	LogFormat     string `yaml:"log_format"     mapstructure:"log_format"     json:"log_format"`
	RedactPrompts bool   `yaml:"redact_prompts" mapstructure:"redact_prompts" json:"redact_prompts"`
}

// Configuration errors.
var (
	ErrNoProviders        = errors.New("at least one provider must be configured")
	ErrInvalidRetry       = errors.New("invalid retry configuration")
	ErrInvalidRateLimit   = errors.New("invalid rate limit configuration")
	ErrInvalidProviderCfg = errors.New("invalid provider configuration")
	ErrInvalidBreaker     = errors.New("invalid circuit breaker configuration")
)

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	for name, p := range c.Providers {
		if p.Weight < 0 || p.Weight > 1 {
			return fmt.Errorf("%w: %s weight %v outside [0,1]", ErrInvalidProviderCfg, name, p.Weight)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max_attempts must be > 0", ErrInvalidRetry)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("%w: intervals must satisfy 0 < initial <= max", ErrInvalidRetry)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier must be >= 1", ErrInvalidRetry)
	}
	if c.RateLimit.Local.Enabled && (c.RateLimit.Local.TokensPerSecond <= 0 || c.RateLimit.Local.BurstSize <= 0) {
		return fmt.Errorf("%w: local limiter needs positive rate and burst", ErrInvalidRateLimit)
	}
	if c.RateLimit.Global.Enabled && c.RateLimit.Global.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: global limiter needs positive requests_per_second", ErrInvalidRateLimit)
	}
	return c.CircuitBreaker.Validate()
}

// Validate checks an enabled breaker has usable thresholds.
func (c CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.FailureThreshold <= 0:
		return fmt.Errorf("%w: failure_threshold must be > 0", ErrInvalidBreaker)
	case c.SuccessThreshold <= 0:
		return fmt.Errorf("%w: success_threshold must be > 0", ErrInvalidBreaker)
	case c.OpenTimeout <= 0:
		return fmt.Errorf("%w: open_timeout must be > 0", ErrInvalidBreaker)
	case c.HalfOpenRequests <= 0:
		return fmt.Errorf("%w: half_open_requests must be > 0", ErrInvalidBreaker)
	case c.MaxBreakers < 0:
		return fmt.Errorf("%w: max_breakers must be >= 0", ErrInvalidBreaker)
	}
	return nil
}
