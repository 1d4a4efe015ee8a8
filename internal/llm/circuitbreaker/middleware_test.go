package circuitbreaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingCore fails every request for the providers in down.
type countingCore struct {
	mu    sync.Mutex
	calls map[string]int
	down  map[string]error
}

func (c *countingCore) Handle(_ context.Context, req *transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[req.Provider]++
	if err := c.down[req.Provider]; err != nil {
		return nil, err
	}
	return &transport.Response{Content: "ok"}, nil
}

func (c *countingCore) count(provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[provider]
}

func (c *countingCore) setDown(provider string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down == nil {
		c.down = map[string]error{}
	}
	c.down[provider] = err
}

type fakeGuard struct {
	held     map[string]bool
	released int
	err      error
}

func (g *fakeGuard) acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *fakeGuard) release(_ context.Context, key string) error {
	delete(g.held, key)
	g.released++
	return nil
}

var outage = &llmerrors.ProviderError{Provider: "google", StatusCode: 503, Type: llmerrors.ErrorTypeProvider}

func testConfig() configuration.CircuitBreakerConfig {
	return configuration.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		HalfOpenRequests: 1,
	}
}

func newTestMiddleware(t *testing.T, cfg configuration.CircuitBreakerConfig) (*Middleware, *fakeClock) {
	t.Helper()
	m, err := NewCircuitBreakerMiddlewareWithRedis(cfg, nil)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m.now = clock.Now
	m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return m, clock
}

func call(h transport.Handler, provider string) error {
	_, err := h.Handle(context.Background(), &transport.Request{Provider: provider, Model: provider + "-model"})
	return err
}

func TestOpenCircuitSkipsProviderWithoutCallingIt(t *testing.T) {
	m, _ := newTestMiddleware(t, testConfig())
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)

	require.Error(t, call(h, "google"))
	require.Error(t, call(h, "google"))
	state, err := m.State("google", "google-model")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)

	err = call(h, "google")
	var pe *llmerrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llmerrors.ErrorTypeCircuit, pe.Type)
	assert.Equal(t, CodeOpen, pe.Code)
	assert.False(t, llmerrors.IsRetryableError(err))
	assert.Equal(t, 2, core.count("google"), "open circuit must not reach the provider")

	require.NoError(t, call(h, "openai"), "other providers keep their own circuit")
	assert.Equal(t, 1, core.count("openai"))
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	m, _ := newTestMiddleware(t, testConfig())
	core := &countingCore{}
	h := m.Wrap(core)

	core.setDown("google", outage)
	require.Error(t, call(h, "google"))
	core.setDown("google", nil)
	require.NoError(t, call(h, "google"))
	core.setDown("google", outage)
	require.Error(t, call(h, "google"))

	state, err := m.State("google", "google-model")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestHalfOpenTrialClosesOrReopens(t *testing.T) {
	m, clock := newTestMiddleware(t, testConfig())
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)
	require.Error(t, call(h, "google"))
	require.Error(t, call(h, "google"))

	clock.Advance(time.Minute)
	require.Error(t, call(h, "google"), "failed trial")
	assert.Equal(t, 3, core.count("google"))
	state, _ := m.State("google", "google-model")
	assert.Equal(t, StateOpen, state)

	clock.Advance(time.Minute)
	core.setDown("google", nil)
	require.NoError(t, call(h, "google"))
	state, _ = m.State("google", "google-model")
	assert.Equal(t, StateClosed, state)
}

func TestHalfOpenLimitsConcurrentTrials(t *testing.T) {
	m, clock := newTestMiddleware(t, testConfig())
	release := make(chan struct{})
	entered := make(chan struct{})
	failing := true
	core := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		if failing {
			return nil, outage
		}
		close(entered)
		<-release
		return &transport.Response{Content: "ok"}, nil
	})
	h := m.Wrap(core)
	require.Error(t, call(h, "google"))
	require.Error(t, call(h, "google"))

	failing = false
	clock.Advance(time.Minute)
	done := make(chan error, 1)
	go func() { done <- call(h, "google") }()
	<-entered

	var pe *llmerrors.ProviderError
	require.ErrorAs(t, call(h, "google"), &pe)
	assert.Equal(t, CodeHalfOpenLimit, pe.Code)

	close(release)
	require.NoError(t, <-done)
	state, _ := m.State("google", "google-model")
	assert.Equal(t, StateClosed, state)
}

func TestTrialGuardHeldElsewhere(t *testing.T) {
	m, clock := newTestMiddleware(t, testConfig())
	guard := &fakeGuard{held: map[string]bool{}}
	m.guard = guard
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)
	require.Error(t, call(h, "google"))
	require.Error(t, call(h, "google"))

	clock.Advance(time.Minute)
	guard.held[Key("google", "google-model")] = true
	var pe *llmerrors.ProviderError
	require.ErrorAs(t, call(h, "google"), &pe)
	assert.Equal(t, CodeTrialElsewhere, pe.Code)
	assert.Equal(t, 2, core.count("google"))

	delete(guard.held, Key("google", "google-model"))
	core.setDown("google", nil)
	require.NoError(t, call(h, "google"), "slot released by the refused trial")
	assert.Equal(t, 1, guard.released)
	assert.Empty(t, guard.held)
}

func TestTrialGuardErrorStillAllowsTrial(t *testing.T) {
	m, clock := newTestMiddleware(t, testConfig())
	m.guard = &fakeGuard{held: map[string]bool{}, err: errors.New("redis down")}
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)
	require.Error(t, call(h, "google"))
	require.Error(t, call(h, "google"))

	clock.Advance(time.Minute)
	core.setDown("google", nil)
	require.NoError(t, call(h, "google"))
	assert.Equal(t, 3, core.count("google"))
}

func TestRequestErrorsDoNotTrip(t *testing.T) {
	m, _ := newTestMiddleware(t, testConfig())
	core := &countingCore{}
	core.setDown("openai", &llmerrors.ProviderError{Provider: "openai", StatusCode: 400, Type: llmerrors.ErrorTypeValidation})
	h := m.Wrap(core)
	for range 5 {
		require.Error(t, call(h, "openai"))
	}
	state, _ := m.State("openai", "openai-model")
	assert.Equal(t, StateClosed, state)

	core.setDown("openai", context.Canceled)
	for range 5 {
		require.Error(t, call(h, "openai"))
	}
	state, _ = m.State("openai", "openai-model")
	assert.Equal(t, StateClosed, state)
}

func TestResetAndUnknownKeys(t *testing.T) {
	m, _ := newTestMiddleware(t, testConfig())
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)
	require.Error(t, call(h, "google"))
	require.Error(t, call(h, "google"))

	require.NoError(t, m.Reset("google", "google-model"))
	state, _ := m.State("google", "google-model")
	assert.Equal(t, StateClosed, state)

	_, err := m.State("nobody", "none")
	assert.ErrorIs(t, err, ErrBreakerNotFound)
	assert.ErrorIs(t, m.Reset("nobody", "none"), ErrBreakerNotFound)
}

func TestMaxBreakersLeavesNewKeysUnguarded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBreakers = 1
	m, _ := newTestMiddleware(t, cfg)
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)

	require.NoError(t, call(h, "openai"))
	for range 4 {
		require.Error(t, call(h, "google"))
	}
	assert.Equal(t, 4, core.count("google"))
	_, err := m.State("google", "google-model")
	assert.ErrorIs(t, err, ErrBreakerNotFound)
}

func TestDisabledBreakerPassesThrough(t *testing.T) {
	m, _ := newTestMiddleware(t, configuration.CircuitBreakerConfig{})
	core := &countingCore{}
	core.setDown("google", outage)
	h := m.Wrap(core)
	for range 5 {
		require.Error(t, call(h, "google"))
	}
	assert.Equal(t, 5, core.count("google"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.OpenTimeout = 0
	_, err := NewCircuitBreakerMiddlewareWithRedis(cfg, nil)
	assert.ErrorIs(t, err, configuration.ErrInvalidBreaker)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
