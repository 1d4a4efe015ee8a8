package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/finalizer"
	"github.com/ahrav/go-discover/internal/scoring"
	"github.com/ahrav/go-discover/internal/tracker"
)

type fakeAgent struct {
	name string
	run  func(in agents.Input) (agents.Result, error)
}

func (f fakeAgent) Name() string { return f.name }

func (f fakeAgent) Run(_ context.Context, in agents.Input) (agents.Result, error) { return f.run(in) }

func crawlOK() fakeAgent {
	return fakeAgent{name: agents.SiteCrawl, run: func(agents.Input) (agents.Result, error) {
		return agents.CrawlReport{
			HomepageStatus: 200,
			HomepageURL:    "https://acme.test/",
			RobotsFound:    true,
			Bots:           map[string]bool{"GPTBot": true, "CCBot": false},
			LLMsTxtFound:   false,
		}, nil
	}}
}

func structuredOK(seen *agents.Input) fakeAgent {
	return fakeAgent{name: agents.StructuredData, run: func(in agents.Input) (agents.Result, error) {
		if seen != nil {
			*seen = in
		}
		return agents.StructuredDataReport{JSONLDBlocks: 1, Types: []string{"Organization"}}, nil
	}}
}

type fakeBridge struct {
	mu       sync.Mutex
	requests []domain.EnqueueRequest
	err      error
}

func (b *fakeBridge) Enqueue(_ context.Context, req domain.EnqueueRequest) (*domain.BridgeJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	return &domain.BridgeJob{JobID: "job-" + req.Agents[0], QueuePosition: len(b.requests)}, nil
}

func (b *fakeBridge) enqueued(agent string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if slices.Contains(r.Agents, agent) {
			n++
		}
	}
	return n
}

type staticSigner struct{}

func (staticSigner) Sign(evaluationID string) (string, error) { return "token-" + evaluationID, nil }

type fixture struct {
	store  *tracker.Store
	bridge *fakeBridge
	orch   *Orchestrator
}

func newFixture(t *testing.T, local ...agents.LocalAgent) *fixture {
	t.Helper()
	store, err := tracker.Open(context.Background(), filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := agents.DefaultRegistry()
	fin := finalizer.New(store, reg, scoring.NewEngine())
	localMap := make(map[string]agents.LocalAgent)
	for _, a := range local {
		localMap[a.Name()] = a
	}
	bridge := &fakeBridge{}
	ids := 0
	orch := New(store, reg, localMap, bridge, staticSigner{},
		Config{CallbackURL: "http://api.test/api/v1/bridge/callbacks/"},
		WithFinalizer(fin),
		WithIDGenerator(func() string { ids++; return "eval-" + strconv.Itoa(ids) }),
	)
	return &fixture{store: store, bridge: bridge, orch: orch}
}

func (f *fixture) rows(t *testing.T, id string) map[string]domain.AgentExecution {
	t.Helper()
	execs, err := f.store.ListExecutions(context.Background(), id)
	require.NoError(t, err)
	out := make(map[string]domain.AgentExecution, len(execs))
	for _, e := range execs {
		out[e.AgentName] = e
	}
	return out
}

var brand = domain.Brand{ID: "brand-1", WebsiteURL: "https://acme.test", Name: "Acme"}

func probeBatch(t *testing.T, dims map[domain.Dimension]float64) json.RawMessage {
	t.Helper()
	var batch agents.ProbeBatch
	for d, s := range dims {
		score := s
		batch.Probes = append(batch.Probes, domain.ProbeResult{
			ProbeName: string(d), Dimension: d, Provider: "openai", Score: &score, WasValid: true, Confidence: 0.8,
		})
	}
	raw, err := json.Marshal(batch)
	require.NoError(t, err)
	return raw
}

func TestRunEvaluation_FreeTier(t *testing.T) {
	ctx := context.Background()
	var seen agents.Input
	f := newFixture(t, crawlOK(), structuredOK(&seen))

	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "eval-1", e.ID)
	assert.Equal(t, domain.EvaluationProcessing, e.Status)

	rows := f.rows(t, e.ID)
	require.Len(t, rows, 3)
	assert.Equal(t, domain.ExecutionCompleted, rows[agents.SiteCrawl].Status)
	assert.Equal(t, domain.ExecutionCompleted, rows[agents.StructuredData].Status)
	assert.Equal(t, domain.ExecutionPending, rows[agents.BrandRecall].Status)
	assert.Equal(t, "job-brand_recall", rows[agents.BrandRecall].JobID)

	// structured_data saw the crawl report of its prerequisite.
	_, ok := seen.Prior[agents.SiteCrawl].(agents.CrawlReport)
	assert.True(t, ok)

	require.Len(t, f.bridge.requests, 1)
	req := f.bridge.requests[0]
	assert.Equal(t, []string{agents.BrandRecall}, req.Agents)
	assert.Equal(t, "http://api.test/api/v1/bridge/callbacks/eval-1", req.CallbackURL)
	assert.Equal(t, "token-eval-1", req.CallbackToken)
	assert.Equal(t, "Acme", req.BrandName)

	dims, err := f.store.ListDimensionScores(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, dims, 3, "crawler_access, llms_txt and structured_data")

	applied, err := f.orch.ApplyAgentUpdate(ctx, domain.AgentUpdate{
		EvaluationID: e.ID,
		AgentName:    agents.BrandRecall,
		Status:       domain.ExecutionCompleted,
		Result: probeBatch(t, map[domain.Dimension]float64{
			domain.DimBrandRecognition:  70,
			domain.DimKnowledgeAccuracy: 60,
		}),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	final, err := f.store.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationCompleted, final.Status)
	require.NotNil(t, final.OverallScore)
	assert.Contains(t, final.PillarScores, domain.PillarPerception)
	assert.NotContains(t, final.PillarScores, domain.PillarCommerce)
}

func TestApplyAgentUpdate_ReplayIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlOK(), structuredOK(nil))
	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierIndexPro)
	require.NoError(t, err)

	u := domain.AgentUpdate{
		EvaluationID: e.ID,
		AgentName:    agents.ShareOfVoice,
		Status:       domain.ExecutionCompleted,
		Result:       probeBatch(t, map[domain.Dimension]float64{domain.DimCitationShare: 55}),
	}
	applied, err := f.orch.ApplyAgentUpdate(ctx, u)
	require.NoError(t, err)
	assert.True(t, applied)

	u.Result = probeBatch(t, map[domain.Dimension]float64{domain.DimCitationShare: 5})
	applied, err = f.orch.ApplyAgentUpdate(ctx, u)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = f.orch.ApplyAgentUpdate(ctx, domain.AgentUpdate{
		EvaluationID: e.ID, AgentName: agents.ShareOfVoice, Status: domain.ExecutionFailed, Error: "late",
	})
	require.NoError(t, err)
	assert.False(t, applied, "failed never overwrites completed")

	assert.Equal(t, domain.ExecutionCompleted, f.rows(t, e.ID)[agents.ShareOfVoice].Status)
	dims, err := f.store.ListDimensionScores(ctx, e.ID)
	require.NoError(t, err)
	for _, d := range dims {
		if d.Dimension == domain.DimCitationShare {
			assert.InDelta(t, 55, d.Score, 1e-9)
		}
	}
}

func TestRunEvaluation_HardPrerequisiteFailureSkips(t *testing.T) {
	ctx := context.Background()
	failing := fakeAgent{name: agents.SiteCrawl, run: func(agents.Input) (agents.Result, error) {
		return nil, errors.New("dns failure")
	}}
	f := newFixture(t, failing, structuredOK(nil))

	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierEnterprise)
	require.NoError(t, err)

	rows := f.rows(t, e.ID)
	assert.Equal(t, domain.ExecutionFailed, rows[agents.SiteCrawl].Status)
	assert.Equal(t, "dns failure", rows[agents.SiteCrawl].Error)
	assert.Equal(t, domain.ExecutionSkipped, rows[agents.StructuredData].Status)
	assert.Contains(t, rows[agents.StructuredData].Error, agents.SiteCrawl)

	// product_discovery only softly needs site_crawl, so it runs degraded.
	pd := rows[agents.ProductDiscovery]
	assert.Equal(t, domain.ExecutionPending, pd.Status)
	assert.True(t, pd.Degraded)

	var degraded []string
	for _, r := range f.bridge.requests {
		degraded = append(degraded, r.Degraded...)
	}
	assert.Equal(t, []string{agents.ProductDiscovery}, degraded)
}

func TestRunEvaluation_LocalPanicIsContained(t *testing.T) {
	ctx := context.Background()
	panicking := fakeAgent{name: agents.SiteCrawl, run: func(agents.Input) (agents.Result, error) {
		panic("nil map")
	}}
	f := newFixture(t, panicking, structuredOK(nil))

	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierFree)
	require.NoError(t, err)

	rows := f.rows(t, e.ID)
	assert.Equal(t, domain.ExecutionFailed, rows[agents.SiteCrawl].Status)
	assert.Contains(t, rows[agents.SiteCrawl].Error, "panic")
	assert.Equal(t, domain.ExecutionPending, rows[agents.BrandRecall].Status, "remote agents still dispatched")
}

func TestRunEvaluation_BridgeErrorFailsRemoteAgents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlOK(), structuredOK(nil))
	f.bridge.err = &domain.BridgeError{StatusCode: 503, Message: "fleet down"}

	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierIndexPro)
	require.NoError(t, err)

	rows := f.rows(t, e.ID)
	assert.Equal(t, domain.ExecutionFailed, rows[agents.BrandRecall].Status)
	assert.Equal(t, domain.ExecutionFailed, rows[agents.ShareOfVoice].Status)
	assert.Contains(t, rows[agents.BrandRecall].Error, "fleet down")
	// sentiment became ready (degraded) once brand_recall failed, and failed to enqueue too.
	assert.Equal(t, domain.ExecutionFailed, rows[agents.Sentiment].Status)
	assert.True(t, rows[agents.Sentiment].Degraded)
	assert.Equal(t, 1, f.bridge.enqueued(agents.Sentiment), "no automatic retry")

	// Every agent is terminal and infrastructure scored, so the evaluation completes.
	final, err := f.store.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationCompleted, final.Status)
}

func TestApplyAgentUpdate_ConcurrentCallbacksDispatchOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlOK(), structuredOK(nil))
	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierIndexPro)
	require.NoError(t, err)
	require.Equal(t, 0, f.bridge.enqueued(agents.Sentiment))

	result := probeBatch(t, map[domain.Dimension]float64{domain.DimBrandRecognition: 60})
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.ApplyAgentUpdate(ctx, domain.AgentUpdate{
				EvaluationID: e.ID,
				AgentName:    agents.BrandRecall,
				Status:       domain.ExecutionCompleted,
				Result:       result,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.bridge.enqueued(agents.Sentiment))
	row := f.rows(t, e.ID)[agents.Sentiment]
	assert.Equal(t, domain.ExecutionPending, row.Status)
	assert.False(t, row.Degraded)
}

func TestRedispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlOK(), structuredOK(nil))
	f.bridge.err = errors.New("timeout")

	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierEnterprise)
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionFailed, f.rows(t, e.ID)[agents.ProductDiscovery].Status)

	// The evaluation completed on infrastructure alone; redispatch is refused.
	err = f.orch.Redispatch(ctx, e.ID, agents.ProductDiscovery)
	assert.ErrorIs(t, err, domain.ErrEvaluationTerminal)
}

func TestRedispatch_ProcessingEvaluation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlOK(), structuredOK(nil))
	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierIndexPro)
	require.NoError(t, err)

	_, err = f.orch.ApplyAgentUpdate(ctx, domain.AgentUpdate{
		EvaluationID: e.ID, AgentName: agents.ShareOfVoice, Status: domain.ExecutionFailed, Error: "worker crashed",
	})
	require.NoError(t, err)

	var verr *domain.ValidationError
	err = f.orch.Redispatch(ctx, e.ID, agents.BrandRecall)
	require.ErrorAs(t, err, &verr, "pending agents cannot be redispatched")

	require.NoError(t, f.orch.Redispatch(ctx, e.ID, agents.ShareOfVoice))
	assert.Equal(t, domain.ExecutionPending, f.rows(t, e.ID)[agents.ShareOfVoice].Status)
	assert.Equal(t, 2, f.bridge.enqueued(agents.ShareOfVoice))
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlOK(), structuredOK(nil))
	var verr *domain.ValidationError

	_, err := f.orch.RunEvaluation(ctx, brand, "platinum")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tier", verr.Field)

	_, err = f.orch.RunEvaluation(ctx, domain.Brand{ID: "b"}, domain.TierFree)
	require.ErrorAs(t, err, &verr)

	e, err := f.orch.RunEvaluation(ctx, brand, domain.TierFree)
	require.NoError(t, err)

	_, err = f.orch.ApplyAgentUpdate(ctx, domain.AgentUpdate{
		EvaluationID: e.ID, AgentName: agents.ProductDiscovery, Status: domain.ExecutionCompleted,
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agentName", verr.Field)

	_, err = f.orch.ApplyAgentUpdate(ctx, domain.AgentUpdate{
		EvaluationID: "nope", AgentName: agents.BrandRecall, Status: domain.ExecutionCompleted,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuildPlan(t *testing.T) {
	reg := agents.DefaultRegistry()
	expected, err := reg.ExpectedAgents(domain.TierEnterprise)
	require.NoError(t, err)

	plan := BuildPlan(reg, expected, nil)
	var ready []string
	for _, d := range plan.Ready {
		ready = append(ready, d.Agent)
	}
	assert.Equal(t, []string{agents.SiteCrawl, agents.BrandRecall, agents.ShareOfVoice}, ready)
	assert.Equal(t, []string{agents.StructuredData, agents.Sentiment, agents.ProductDiscovery}, plan.Blocked)

	plan = BuildPlan(reg, expected, []domain.AgentExecution{
		{AgentName: agents.SiteCrawl, Status: domain.ExecutionFailed},
		{AgentName: agents.BrandRecall, Status: domain.ExecutionCompleted},
		{AgentName: agents.ShareOfVoice, Status: domain.ExecutionRunning},
	})
	assert.Equal(t, []Skip{{Agent: agents.StructuredData, Reason: "hard prerequisite site_crawl ended failed"}}, plan.Skipped)
	assert.Equal(t, []Dispatch{
		{Agent: agents.Sentiment, Mode: agents.ModeRemote},
		{Agent: agents.ProductDiscovery, Mode: agents.ModeRemote, Degraded: true},
	}, plan.Ready)
	assert.Empty(t, plan.Blocked)
}
