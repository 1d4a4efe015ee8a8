// Package cache provides Redis-backed response caching for LLM calls.
// Only successful responses are cached. A short lease keeps concurrent
// identical requests from all reaching the provider, and any Redis failure
// degrades to calling the provider directly.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

const (
	leaseTimeout       = 30 * time.Second
	retryCheckInterval = 100 * time.Millisecond
	cleanupTimeout     = 5 * time.Second
	connectionTimeout  = 5 * time.Second
)

// Store is the minimal key/value contract the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error) // llmerrors.ErrCacheMiss when absent
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// RedisStore implements Store on go-redis.
type RedisStore struct{ Client redis.UniversalClient }

func (s RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, llmerrors.ErrCacheMiss
	}
	return b, err
}

func (s RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.Client.Set(ctx, key, val, ttl).Err()
}

func (s RedisStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, key, val, ttl).Result()
}

func (s RedisStore) Del(ctx context.Context, key string) error {
	return s.Client.Del(ctx, key).Err()
}

type cacheMiddleware struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Stats reports cache counters.
type Stats struct {
	Hits, Misses, Errors int64
}

// Middleware is the transport middleware plus its counters.
type Middleware struct {
	cm *cacheMiddleware
}

// Wrap implements transport.Middleware.
func (m *Middleware) Wrap(next transport.Handler) transport.Handler { return m.cm.wrap(next) }

// Stats returns a snapshot of the counters.
func (m *Middleware) Stats() Stats {
	return Stats{Hits: m.cm.hits.Load(), Misses: m.cm.misses.Load(), Errors: m.cm.errors.Load()}
}

// NewCacheMiddlewareWithRedis builds the cache middleware. When client is
// nil a client is created from cfg; if Redis cannot be reached the returned
// middleware passes every request through.
func NewCacheMiddlewareWithRedis(ctx context.Context, cfg configuration.CacheConfig, client redis.UniversalClient) *Middleware {
	logger := slog.Default().With("component", "cache")
	if !cfg.Enabled {
		return &Middleware{cm: &cacheMiddleware{logger: logger}}
	}
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis connection failed, cache disabled", "error", err)
		return &Middleware{cm: &cacheMiddleware{logger: logger}}
	}
	return NewCacheMiddleware(RedisStore{Client: client}, cfg.TTL)
}

// NewCacheMiddleware builds the cache middleware on an arbitrary store.
func NewCacheMiddleware(store Store, ttl time.Duration) *Middleware {
	return &Middleware{cm: &cacheMiddleware{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "cache"),
	}}
}

func (c *cacheMiddleware) wrap(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if c.store == nil {
			return next.Handle(ctx, req)
		}
		idem, err := transport.GenerateIdemKey(req)
		if err != nil {
			c.logger.Warn("cache key validation failed", "error", err)
			return next.Handle(ctx, req)
		}
		key := transport.CacheKey(req.TenantID, req.Operation, idem)
		leaseKey := key + ":lease"

		if resp, ok := c.lookup(ctx, key); ok {
			c.hits.Add(1)
			c.logger.Debug("cache hit", "key", key, "provider", req.Provider, "model", req.Model)
			return resp, nil
		}
		c.misses.Add(1)

		acquired, err := c.store.SetNX(ctx, leaseKey, []byte("1"), leaseTimeout)
		if err != nil {
			c.errors.Add(1)
			c.logger.Warn("lease acquisition failed", "error", err, "key", key)
		}
		if err == nil && !acquired {
			// Another worker is producing this response; give it a moment.
			select {
			case <-time.After(retryCheckInterval):
				if resp, ok := c.lookup(ctx, key); ok {
					c.hits.Add(1)
					return resp, nil
				}
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if acquired {
			defer func() { //nolint:contextcheck // cleanup must outlive a cancelled request
				cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				defer cancel()
				if delErr := c.store.Del(cleanupCtx, leaseKey); delErr != nil {
					c.logger.Warn("lease cleanup error", "error", delErr, "key", leaseKey)
				}
			}()
		}

		resp, err := next.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		if setErr := c.set(ctx, key, req, resp); setErr != nil {
			c.errors.Add(1)
			c.logger.Warn("cache set error", "error", setErr, "key", key)
		}
		return resp, nil
	})
}

func (c *cacheMiddleware) lookup(ctx context.Context, key string) (*transport.Response, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, llmerrors.ErrCacheMiss) {
			c.errors.Add(1)
			c.logger.Warn("cache get error", "error", err, "key", key)
		}
		return nil, false
	}
	var entry transport.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.errors.Add(1)
		c.logger.Warn("corrupted cache entry", "error", err, "key", key)
		return nil, false
	}
	return &transport.Response{
		Content:            entry.Content,
		FinishReason:       entry.FinishReason,
		ProviderRequestIDs: entry.RequestIDs,
		Usage:              entry.Usage,
		Cached:             true,
	}, true
}

func (c *cacheMiddleware) set(ctx context.Context, key string, req *transport.Request, resp *transport.Response) error {
	b, err := json.Marshal(transport.CacheEntry{
		Provider:       req.Provider,
		Model:          req.Model,
		Content:        resp.Content,
		FinishReason:   resp.FinishReason,
		RequestIDs:     resp.ProviderRequestIDs,
		Usage:          resp.Usage,
		StoredAtUnixMs: c.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.store.Set(ctx, key, b, c.ttl)
}
