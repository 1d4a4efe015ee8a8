// Package retry provides the transport middleware that retries transient
// provider failures with exponential backoff and full jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")

	// ErrAllRetriesExhausted wraps the last error once every attempt failed.
	ErrAllRetriesExhausted = errors.New("all retries exhausted")
)

type retryMiddleware struct {
	config configuration.RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryMiddlewareWithConfig creates retry middleware with the given policy.
func NewRetryMiddlewareWithConfig(cfg configuration.RetryConfig) (transport.Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}

	rm := &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		sleep:  sleepCtx,
	}
	return rm.middleware(), nil
}

func (r *retryMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			start := time.Now()
			var lastErr error
			attempts := 0
			for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
				attempts = attempt
				resp, err := next.Handle(ctx, req)
				if err == nil {
					if attempt > 1 {
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model)
					}
					return resp, nil
				}

				if !llmerrors.IsRetryableError(err) {
					r.logger.Debug("non-retryable error", "error", err, "attempt", attempt, "provider", req.Provider)
					return nil, err
				}
				lastErr = err

				if attempt == r.config.MaxAttempts {
					break
				}

				backoff := r.calculateBackoff(attempt, err)
				if r.config.MaxElapsedTime > 0 && time.Since(start)+backoff > r.config.MaxElapsedTime {
					r.logger.Warn("max elapsed time exceeded",
						"elapsed", time.Since(start),
						"attempts", attempt,
						"last_error", err)
					break
				}

				r.logger.Debug("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
					"provider", req.Provider)
				if err := r.sleep(ctx, backoff); err != nil {
					return nil, fmt.Errorf("context cancelled during retry: %w", err)
				}
			}

			return nil, fmt.Errorf("%w after %d attempts: %w", ErrAllRetriesExhausted, attempts, lastErr)
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
