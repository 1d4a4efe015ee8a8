//go:build integration
// +build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ahrav/go-discover/internal/llm/cache"
	"github.com/ahrav/go-discover/internal/llm/configuration"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestCache_RealRedis(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	mw := cache.NewCacheMiddlewareWithRedis(ctx, configuration.CacheConfig{Enabled: true, TTL: time.Minute}, client)
	calls := 0
	h := mw.Wrap(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		return &transport.Response{Content: `{"score":64}`}, nil
	}))

	req := &transport.Request{Operation: transport.OpProbe, Provider: "anthropic", Model: "m", Prompt: "brand?"}
	_, err := h.Handle(ctx, req)
	require.NoError(t, err)
	resp, err := h.Handle(ctx, req)
	require.NoError(t, err)

	assert.True(t, resp.Cached)
	assert.Equal(t, 1, calls)

	keys, err := client.Keys(ctx, "llm:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
