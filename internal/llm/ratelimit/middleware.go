// Package ratelimit provides dual-layer rate limiting for provider calls: a
// local token bucket per provider/model and an optional Redis fixed window
// shared across processes. When Redis is unreachable the middleware degrades
// to local-only limiting.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

// windowCounter increments a fixed-window counter and reports the new value.
type windowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// redisCounter implements windowCounter with INCR + EXPIRE in one pipeline.
type redisCounter struct{ client redis.UniversalClient }

func (c redisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type rateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	local    configuration.LocalRateLimitConfig

	global   configuration.GlobalRateLimitConfig
	counter  windowCounter
	degraded atomic.Bool

	now    func() time.Time
	logger *slog.Logger
}

// NewRateLimitMiddlewareWithRedis creates the rate limiting middleware. client
// may be nil, in which case a client is built from cfg when global limiting
// is enabled.
func NewRateLimitMiddlewareWithRedis(cfg configuration.RateLimitConfig, client redis.UniversalClient) (transport.Middleware, error) {
	if cfg.Local.Enabled && (cfg.Local.TokensPerSecond <= 0 || cfg.Local.BurstSize <= 0) {
		return nil, fmt.Errorf("local rate limit requires positive rate and burst")
	}
	if cfg.Global.Enabled && cfg.Global.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("global rate limit requires positive requests_per_second")
	}

	rlm := &rateLimitMiddleware{
		limiters: make(map[string]*rate.Limiter),
		local:    cfg.Local,
		global:   cfg.Global,
		now:      time.Now,
		logger:   slog.Default().With("component", "ratelimit"),
	}
	if cfg.Global.Enabled {
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Global.RedisAddr,
				Password: cfg.Global.RedisPassword,
				DB:       cfg.Global.RedisDB,
			})
		}
		rlm.counter = redisCounter{client: client}
	}
	return rlm.middleware(), nil
}

func (r *rateLimitMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			key := buildKey(req)
			if r.local.Enabled {
				if err := r.waitLocal(ctx, key, req.Provider); err != nil {
					return nil, err
				}
			}
			if r.counter != nil {
				if err := r.checkGlobal(ctx, key, req.Provider); err != nil {
					return nil, err
				}
			}
			return next.Handle(ctx, req)
		})
	}
}

func buildKey(req *transport.Request) string {
	return fmt.Sprintf("%s:%s:%s", req.Provider, req.Model, req.Operation)
}

func (r *rateLimitMiddleware) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.local.TokensPerSecond), r.local.BurstSize)
		r.limiters[key] = lim
	}
	return lim
}

// waitLocal reserves a token and blocks up to MaxWait for it. Longer waits
// are rejected so the retry layer can back off instead.
func (r *rateLimitMiddleware) waitLocal(ctx context.Context, key, provider string) error {
	res := r.limiter(key).Reserve()
	if !res.OK() {
		return &llmerrors.RateLimitError{Provider: provider, LocalLimit: true}
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	if delay > r.local.MaxWait {
		res.Cancel()
		return &llmerrors.RateLimitError{Provider: provider, RetryAfter: delay, LocalLimit: true}
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

func (r *rateLimitMiddleware) checkGlobal(ctx context.Context, key, provider string) error {
	now := r.now()
	window := now.Truncate(time.Second)
	count, err := r.counter.Incr(ctx, fmt.Sprintf("rl:%s:%d", key, window.Unix()), time.Second)
	if err != nil {
		if r.degraded.CompareAndSwap(false, true) {
			r.logger.Warn("global rate limiter unavailable, using local only", "error", err)
		}
		return nil
	}
	if r.degraded.CompareAndSwap(true, false) {
		r.logger.Info("global rate limiter recovered")
	}
	if count > int64(r.global.RequestsPerSecond) {
		return &llmerrors.RateLimitError{Provider: provider, RetryAfter: window.Add(time.Second).Sub(now)}
	}
	return nil
}
