package probe

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/llm"
	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

func TestHarness_OpenCircuitFallsBackWithoutCallingProvider(t *testing.T) {
	cfg := configuration.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.CircuitBreaker.FailureThreshold = 1

	var mu sync.Mutex
	calls := map[string]int{}
	core := transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		mu.Lock()
		calls[req.Provider]++
		mu.Unlock()
		if req.Provider == "google" {
			return nil, &llmerrors.ProviderError{Provider: "google", StatusCode: 503, Type: llmerrors.ErrorTypeProvider}
		}
		return &transport.Response{Content: `{"score": 70, "explanation": "known"}`}, nil
	})
	client, err := llm.NewClient(context.Background(), cfg, llm.WithCoreHandler(core))
	require.NoError(t, err)

	h, err := NewHarness(client, Config{
		Panel:         []string{"google"},
		FallbackOrder: []string{"anthropic", "google", "openai"},
		// One slot at a time so the first run opens the circuit before the second.
		MaxConcurrency: 1,
	})
	require.NoError(t, err)

	s := spec("p")
	s.MaxRetries = 1
	for run := range 3 {
		results := h.Run(context.Background(), []Spec{s})
		require.Len(t, results, 1)
		assert.True(t, results[0].WasValid, "run %d: %s", run, results[0].Error)
		assert.Equal(t, "openai", results[0].Provider, "run %d", run)
		assert.Equal(t, 2, results[0].Attempts)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["google"], "only the first run reaches the failing provider")
	assert.Equal(t, 3, calls["openai"])
}
