package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

// ErrBreakerNotFound is returned for keys that never carried a request.
var ErrBreakerNotFound = errors.New("circuit breaker not found")

// trialGuard lets one process at a time send a half-open trial.
type trialGuard interface {
	acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key string) error
}

type redisGuard struct{ client redis.UniversalClient }

func (g redisGuard) acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, "cb:trial:"+key, "1", ttl).Result()
}

func (g redisGuard) release(ctx context.Context, key string) error {
	return g.client.Del(ctx, "cb:trial:"+key).Err()
}

// Middleware is the transport middleware plus access to breaker state.
type Middleware struct {
	cfg   configuration.CircuitBreakerConfig
	guard trialGuard
	now   func() time.Time

	mu       sync.RWMutex
	breakers map[string]*breaker

	logger *slog.Logger
}

// NewCircuitBreakerMiddlewareWithRedis creates the breaker middleware.
// client may be nil, in which case half-open trials are coordinated only
// within this process.
func NewCircuitBreakerMiddlewareWithRedis(cfg configuration.CircuitBreakerConfig, client redis.UniversalClient) (*Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Middleware{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*breaker),
		logger:   slog.Default().With("component", "circuit_breaker"),
	}
	if client != nil {
		m.guard = redisGuard{client: client}
	}
	return m, nil
}

// Wrap implements transport.Middleware. A disabled breaker passes requests
// straight through.
func (m *Middleware) Wrap(next transport.Handler) transport.Handler {
	if !m.cfg.Enabled {
		return next
	}
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		key := Key(req.Provider, req.Model)
		b := m.breakerFor(req.Provider, key)
		if b == nil {
			return next.Handle(ctx, req)
		}

		trial, err := b.allow()
		if err != nil {
			m.logger.Debug("request short-circuited", "key", key, "error", err)
			return nil, err
		}
		if trial && m.guard != nil {
			ok, gerr := m.guard.acquire(ctx, key, m.guardTTL())
			switch {
			case gerr != nil:
				m.logger.Warn("failed to acquire trial guard", "key", key, "error", gerr)
			case !ok:
				b.cancel()
				return nil, b.rejection(CodeTrialElsewhere, "another instance is testing the provider")
			default:
				defer func() {
					if err := m.guard.release(context.WithoutCancel(ctx), key); err != nil {
						m.logger.Warn("failed to release trial guard", "key", key, "error", err)
					}
				}()
			}
		}

		resp, err := next.Handle(ctx, req)
		if err != nil && errors.Is(err, context.Canceled) {
			if trial {
				b.cancel()
			}
			return nil, err
		}
		b.record(trial, countsAsFailure(err))
		return resp, err
	})
}

// State reports the state of the breaker for provider and model.
func (m *Middleware) State(provider, model string) (State, error) {
	m.mu.RLock()
	b, ok := m.breakers[Key(provider, model)]
	m.mu.RUnlock()
	if !ok {
		return StateClosed, ErrBreakerNotFound
	}
	return b.current(), nil
}

// Reset closes the breaker for provider and model.
func (m *Middleware) Reset(provider, model string) error {
	m.mu.RLock()
	b, ok := m.breakers[Key(provider, model)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBreakerNotFound, Key(provider, model))
	}
	b.reset()
	return nil
}

// Key identifies a breaker. Every model of a provider has its own circuit.
func Key(provider, model string) string { return provider + ":" + model }

// breakerFor returns the breaker for key, creating it on first use. It
// returns nil once MaxBreakers keys exist.
func (m *Middleware) breakerFor(provider, key string) *breaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	if m.cfg.MaxBreakers > 0 && len(m.breakers) >= m.cfg.MaxBreakers {
		m.logger.Warn("circuit breaker limit reached", "key", key, "limit", m.cfg.MaxBreakers)
		return nil
	}
	b = newBreaker(provider, key, m.cfg, m.now, m.logger)
	m.breakers[key] = b
	return b
}

func (m *Middleware) guardTTL() time.Duration {
	if m.cfg.TrialGuardTTL > 0 {
		return m.cfg.TrialGuardTTL
	}
	return configuration.DefaultTrialGuardTTL
}

// countsAsFailure reports whether err says the provider is unhealthy.
// Rejections of the request itself do not count.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *llmerrors.ProviderError
	if errors.As(err, &pe) {
		switch pe.Type {
		case llmerrors.ErrorTypeValidation, llmerrors.ErrorTypeContent, llmerrors.ErrorTypeCircuit:
			return false
		}
	}
	return true
}
