package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, llmerrors.ErrCacheMiss
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = val
	return nil
}

func (m *memStore) SetNX(_ context.Context, key string, val []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = val
	return true, nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type countingHandler struct {
	calls int
	err   error
}

func (h *countingHandler) Handle(context.Context, *transport.Request) (*transport.Response, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return &transport.Response{Content: `{"score":70}`, FinishReason: transport.FinishStop}, nil
}

func req() *transport.Request {
	return &transport.Request{Operation: transport.OpProbe, Provider: "openai", Model: "m", Prompt: "p"}
}

func TestCacheHitAfterMiss(t *testing.T) {
	store := newMemStore()
	mw := NewCacheMiddleware(store, time.Hour)
	next := &countingHandler{}
	h := mw.Wrap(next)

	first, err := h.Handle(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.Handle(context.Background(), req())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, mw.Stats())

	for k := range store.data {
		assert.NotContains(t, k, ":lease", "lease must be released")
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	mw := NewCacheMiddleware(newMemStore(), time.Hour)
	next := &countingHandler{err: errors.New("boom")}
	h := mw.Wrap(next)

	for i := 0; i < 2; i++ {
		_, err := h.Handle(context.Background(), req())
		assert.Error(t, err)
	}
	assert.Equal(t, 2, next.calls)
}

func TestCacheDegradesOnStoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("redis down")
	mw := NewCacheMiddleware(store, time.Hour)
	next := &countingHandler{}

	resp, err := mw.Wrap(next).Handle(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Positive(t, mw.Stats().Errors)
}

func TestCacheCorruptedEntryIsMiss(t *testing.T) {
	store := newMemStore()
	idem, err := transport.GenerateIdemKey(req())
	require.NoError(t, err)
	store.data[transport.CacheKey("", transport.OpProbe, idem)] = []byte("not json")

	next := &countingHandler{}
	resp, err := NewCacheMiddleware(store, time.Hour).Wrap(next).Handle(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1, next.calls)
}

func TestDisabledCachePassesThrough(t *testing.T) {
	mw := NewCacheMiddlewareWithRedis(context.Background(), configuration.CacheConfig{}, nil)
	next := &countingHandler{}
	h := mw.Wrap(next)
	for i := 0; i < 2; i++ {
		_, err := h.Handle(context.Background(), req())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, next.calls)
}
