package probe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

// scriptedClient answers by provider. Each provider holds a queue of
// replies; the last reply repeats once the queue is drained.
type scriptedClient struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   map[string]int
	prompts []string
}

type reply struct {
	content string
	err     error
}

func newScriptedClient(replies map[string][]reply) *scriptedClient {
	return &scriptedClient{replies: replies, calls: make(map[string]int)}
}

func (c *scriptedClient) Complete(_ context.Context, req *transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, req.Prompt)
	queue := c.replies[req.Provider]
	n := c.calls[req.Provider]
	c.calls[req.Provider]++
	if len(queue) == 0 {
		return nil, errors.New("no scripted reply for " + req.Provider)
	}
	r := queue[min(n, len(queue)-1)]
	if r.err != nil {
		return nil, r.err
	}
	req.Model = req.Provider + "-model"
	return &transport.Response{Content: r.content}, nil
}

func (c *scriptedClient) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func ok(content string) reply { return reply{content: content} }

func newTestHarness(t *testing.T, client *scriptedClient) *Harness {
	t.Helper()
	h, err := NewHarness(client, Config{
		Panel:         []string{"openai", "anthropic", "google"},
		FallbackOrder: []string{"anthropic", "google", "openai"},
		Weights:       map[string]float64{"openai": 1, "anthropic": 1, "google": 0.5},
	})
	require.NoError(t, err)
	return h
}

func spec(name string) Spec {
	return Spec{
		Name:      name,
		Dimension: domain.DimBrandRecognition,
		Template:  "What is {{.Brand}}?",
		Vars:      map[string]any{"Brand": "Acme"},
	}
}

func TestHarness_PanelAgreement(t *testing.T) {
	client := newScriptedClient(map[string][]reply{
		"openai":    {ok(`{"score": 80, "explanation": "well known"}`)},
		"anthropic": {ok(`{"score": 70, "explanation": "known", "recommendations": ["publish llms.txt"]}`)},
		"google":    {ok(`{"score": 90, "explanation": "very well known"}`)},
	})
	results := newTestHarness(t, client).Run(context.Background(), []Spec{spec("recall")})
	require.Len(t, results, 3)

	byProvider := map[string]domain.ProbeResult{}
	for _, r := range results {
		require.True(t, r.WasValid, r.Error)
		require.NotNil(t, r.Score)
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, r.Provider+"-model", r.Model)
		byProvider[r.Provider] = r
	}
	assert.InDelta(t, 1.0, byProvider["openai"].Confidence, 1e-9)
	assert.InDelta(t, 0.9, byProvider["anthropic"].Confidence, 1e-9)
	assert.InDelta(t, 0.45, byProvider["google"].Confidence, 1e-9)
	assert.True(t, byProvider["anthropic"].IsTrusted)
	assert.False(t, byProvider["google"].IsTrusted, "low weight and disagreement lower trust")
	assert.JSONEq(t, `{"score": 70, "explanation": "known", "recommendations": ["publish llms.txt"]}`,
		string(byProvider["anthropic"].Output))
	assert.Equal(t, []string{"What is Acme?", "What is Acme?", "What is Acme?"}, client.prompts)
}

func TestHarness_ResultOrderFollowsSpecsAndPanel(t *testing.T) {
	client := newScriptedClient(map[string][]reply{
		"openai":    {ok(`{"score": 50, "explanation": "x"}`)},
		"anthropic": {ok(`{"score": 50, "explanation": "x"}`)},
	})
	h := newTestHarness(t, client)
	a, b := spec("a"), spec("b")
	a.Panel = []string{"openai", "anthropic"}
	b.Panel = []string{"anthropic"}

	results := h.Run(context.Background(), []Spec{a, b})
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ProbeName)
	assert.Equal(t, "openai", results[0].Provider)
	assert.Equal(t, "anthropic", results[1].Provider)
	assert.Equal(t, "b", results[2].ProbeName)
	assert.InDelta(t, 0.8, results[2].Confidence, 1e-9, "single result is uncorroborated")
}

func TestHarness_RepairsAndNormalizesScores(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"fenced with trailing comma", "Sure!\n```json\n{\"score\": 64, \"explanation\": \"ok\",}\n```", 64},
		{"percent string", `{"score": "85%", "explanation": "ok"}`, 85},
		{"numeric string", `{"score": "42", "explanation": "ok"}`, 42},
		{"fraction stays on the 0..100 scale", `{"score": 0.72, "explanation": "ok"}`, 0.72},
		{"one is not a share", `{"score": 1, "explanation": "essentially unknown"}`, 1},
		{"over range clamps", `{"score": 120, "explanation": "too high"}`, 100},
		{"negative clamps", `{"score": -5, "explanation": "below"}`, 0},
		{"over range string clamps", `{"score": "130/100", "explanation": "ok"}`, 100},
		{"out of hundred string", `{"score": "85/100", "explanation": "ok"}`, 85},
		{"zero stays zero", `{"score": 0, "explanation": "unknown brand"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient(map[string][]reply{"openai": {ok(tt.content)}})
			s := spec("p")
			s.Panel = []string{"openai"}
			results := newTestHarness(t, client).Run(context.Background(), []Spec{s})
			require.Len(t, results, 1)
			require.True(t, results[0].WasValid, results[0].Error)
			assert.InDelta(t, tt.want, *results[0].Score, 1e-9)
		})
	}
}

func TestHarness_RetryWalksFallbackOrder(t *testing.T) {
	client := newScriptedClient(map[string][]reply{
		"openai":    {ok(`I cannot answer that.`)},
		"anthropic": {ok(`{"score": 61, "explanation": "recovered"}`)},
	})
	s := spec("p")
	s.Panel = []string{"openai"}
	s.MaxRetries = 2

	results := newTestHarness(t, client).Run(context.Background(), []Spec{s})
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.WasValid)
	assert.Equal(t, "anthropic", r.Provider, "openai is last in the order so anthropic follows it")
	assert.Equal(t, 2, r.Attempts)
	assert.InDelta(t, 61, *r.Score, 1e-9)
}

func TestHarness_AllAttemptsInvalid(t *testing.T) {
	client := newScriptedClient(map[string][]reply{
		"openai":    {ok(`{"score": "high", "explanation": "not a number"}`)},
		"anthropic": {{err: errors.New("upstream down")}},
	})
	s := spec("p")
	s.Panel = []string{"openai"}
	s.MaxRetries = 1

	results := newTestHarness(t, client).Run(context.Background(), []Spec{s})
	require.Len(t, results, 1)
	r := results[0]
	assert.False(t, r.WasValid)
	assert.False(t, r.IsTrusted)
	assert.Nil(t, r.Score)
	assert.Zero(t, r.Confidence)
	assert.Equal(t, "openai", r.Provider)
	assert.Equal(t, 2, r.Attempts)
	assert.Contains(t, r.Error, "invalid response after 2 attempts")
	assert.Contains(t, r.Error, "upstream down")
}

func TestHarness_SchemaRejectsMissingExplanation(t *testing.T) {
	client := newScriptedClient(map[string][]reply{"openai": {ok(`{"score": 40}`)}})
	s := spec("p")
	s.Panel = []string{"openai"}

	results := newTestHarness(t, client).Run(context.Background(), []Spec{s})
	require.Len(t, results, 1)
	assert.False(t, results[0].WasValid)
	assert.Contains(t, results[0].Error, ErrSchemaViolation.Error())
}

func TestHarness_TemplateErrorSkipsProviders(t *testing.T) {
	client := newScriptedClient(nil)
	s := spec("broken")
	s.Template = "What is {{.Missing}}?"

	results := newTestHarness(t, client).Run(context.Background(), []Spec{s})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.WasValid)
		assert.Zero(t, r.Attempts)
	}
	assert.Zero(t, client.total())
}

func TestHarness_CanceledContext(t *testing.T) {
	client := newScriptedClient(map[string][]reply{"openai": {ok(`{"score": 40, "explanation": "x"}`)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := spec("p")
	s.Panel = []string{"openai"}
	results := newTestHarness(t, client).Run(ctx, []Spec{s})
	require.Len(t, results, 1)
	assert.False(t, results[0].WasValid)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 5.0, median([]float64{5}))
	assert.Equal(t, 70.0, median([]float64{90, 50, 70}))
	assert.Equal(t, 65.0, median([]float64{80, 50, 60, 70}))
}
