package tracker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tracker.db"), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEvaluation(t *testing.T, s *Store, id string) *domain.Evaluation {
	t.Helper()
	e := domain.NewEvaluation(id, domain.Brand{ID: "brand-1", WebsiteURL: "https://acme.test"}, domain.TierFree, t0)
	require.NoError(t, s.CreateEvaluation(context.Background(), e))
	return e
}

func TestOpen_WALMode(t *testing.T) {
	s := newStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestEvaluation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	got, err := s.GetEvaluation(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationPending, got.Status)
	assert.Equal(t, "acme.test", got.BrandName)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Nil(t, got.OverallScore)
	assert.Nil(t, got.CompletedAt)

	_, err = s.GetEvaluation(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluation_MarkProcessingOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	ok, err := s.MarkProcessing(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkProcessing(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluation_FinalizeSingleWriter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	score := 74.0
	f := domain.Finalization{
		Status:             domain.EvaluationCompleted,
		OverallScore:       &score,
		Grade:              domain.GradeC,
		PillarScores:       map[domain.Pillar]float64{domain.PillarInfrastructure: 80},
		Weakest:            domain.DimProductVisibility,
		ReducedReliability: true,
		MissingAgents:      []string{"sentiment"},
		CompletedAt:        t0.Add(time.Minute),
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Finalize(ctx, "e1", f)
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for ok := range wins {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)

	got, err := s.GetEvaluation(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationCompleted, got.Status)
	require.NotNil(t, got.OverallScore)
	assert.Equal(t, 74.0, *got.OverallScore)
	assert.Equal(t, domain.GradeC, got.Grade)
	assert.Equal(t, 80.0, got.PillarScores[domain.PillarInfrastructure])
	assert.True(t, got.ReducedReliability)
	assert.Equal(t, []string{"sentiment"}, got.MissingAgents)
	require.NotNil(t, got.CompletedAt)

	nonTerminal, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Empty(t, nonTerminal)

	_, err = s.Finalize(ctx, "e1", domain.Finalization{Status: domain.EvaluationProcessing})
	assert.Error(t, err)
}

func TestApply_RankGuard(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	apply := func(status domain.ExecutionStatus, result string) bool {
		t.Helper()
		u := domain.AgentUpdate{EvaluationID: "e1", AgentName: "brand_recall", Status: status}
		if result != "" {
			u.Result = json.RawMessage(result)
		}
		ok, err := s.Apply(ctx, u)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, apply(domain.ExecutionPending, ""))
	assert.False(t, apply(domain.ExecutionPending, ""), "claim is exclusive")
	assert.True(t, apply(domain.ExecutionRunning, ""))
	assert.True(t, apply(domain.ExecutionFailed, ""))
	assert.False(t, apply(domain.ExecutionRunning, ""), "terminal never regresses")
	assert.True(t, apply(domain.ExecutionCompleted, `{"probes":[]}`), "late completed supersedes failed")
	assert.False(t, apply(domain.ExecutionCompleted, `{"probes":[1]}`), "identical replay is a no-op")
	assert.False(t, apply(domain.ExecutionFailed, ""), "failed never overwrites completed")

	rows, err := s.ListExecutions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ExecutionCompleted, rows[0].Status)
	assert.JSONEq(t, `{"probes":[]}`, string(rows[0].Result))
	require.NotNil(t, rows[0].CompletedAt)
}

func TestApply_PreservesJobIDAndDegraded(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	ok, err := s.Apply(ctx, domain.AgentUpdate{EvaluationID: "e1", AgentName: "sentiment",
		Status: domain.ExecutionPending, Degraded: true})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.SetJobID(ctx, "e1", "sentiment", "job-9"))

	_, err = s.Apply(ctx, domain.AgentUpdate{EvaluationID: "e1", AgentName: "sentiment",
		Status: domain.ExecutionCompleted, ExecutionTime: 1500 * time.Millisecond})
	require.NoError(t, err)

	got, err := s.GetExecution(ctx, "e1", "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "job-9", got.JobID)
	assert.True(t, got.Degraded)
	assert.Equal(t, 1500*time.Millisecond, got.ExecutionTime)

	_, err = s.GetExecution(ctx, "e1", "share_of_voice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApply_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Apply(ctx, domain.AgentUpdate{EvaluationID: "e1", AgentName: "site_crawl", Status: domain.ExecutionRunning})
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for ok := range wins {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestApply_RejectsUnknownStatus(t *testing.T) {
	s := newStore(t)
	_, err := s.Apply(context.Background(), domain.AgentUpdate{EvaluationID: "e1", AgentName: "x", Status: "exploded"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	_, err := s.Apply(ctx, domain.AgentUpdate{EvaluationID: "e1", AgentName: "brand_recall", Status: domain.ExecutionCompleted})
	require.NoError(t, err)
	ok, err := s.Reset(ctx, "e1", "brand_recall")
	require.NoError(t, err)
	assert.False(t, ok, "completed rows are not reset")

	_, err = s.Apply(ctx, domain.AgentUpdate{EvaluationID: "e1", AgentName: "sentiment", Status: domain.ExecutionFailed})
	require.NoError(t, err)
	ok, err = s.Reset(ctx, "e1", "sentiment")
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := s.ListExecutions(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDimensionScores_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedEvaluation(t, s, "e1")

	first := []domain.DimensionScore{
		{EvaluationID: "e1", Dimension: domain.DimSentiment, Score: 60, Confidence: 0.8, Recommendations: []string{"a"}},
		{EvaluationID: "e1", Dimension: domain.DimBrandRecognition, Score: 70, Confidence: 0.9},
	}
	n, err := s.InsertDimensionScores(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertDimensionScores(ctx, []domain.DimensionScore{
		{EvaluationID: "e1", Dimension: domain.DimSentiment, Score: 10, Confidence: 0.1},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.ListDimensionScores(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.DimBrandRecognition, got[0].Dimension)
	assert.Equal(t, 60.0, got[1].Score)
	assert.Equal(t, []string{"a"}, got[1].Recommendations)
	assert.Empty(t, got[0].Recommendations)

	_, err = s.InsertDimensionScores(ctx, []domain.DimensionScore{{EvaluationID: "e1", Dimension: domain.DimSentiment, Score: 140}})
	assert.Error(t, err)
}
