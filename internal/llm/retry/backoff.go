package retry

import (
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
)

// calculateBackoff returns the provider's Retry-After guidance when present,
// otherwise exponential backoff with optional full jitter.
func (r *retryMiddleware) calculateBackoff(attempt int, err error) time.Duration {
	if ra := llmerrors.RetryAfter(err); ra > 0 {
		if r.config.MaxInterval > 0 && ra > r.config.MaxInterval*4 {
			// Absurd guidance; fall back to our own schedule.
			return ExponentialBackoff(attempt, r.config)
		}
		return ra
	}
	return ExponentialBackoff(attempt, r.config)
}

// ExponentialBackoff calculates the delay before attempt+1.
// Returns zero for non-positive attempts.
func ExponentialBackoff(attempt int, cfg configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := cfg.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * max(cfg.Multiplier, 1.0))
		if cfg.MaxInterval > 0 && backoff > cfg.MaxInterval {
			backoff = cfg.MaxInterval
			break
		}
	}

	if cfg.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}
