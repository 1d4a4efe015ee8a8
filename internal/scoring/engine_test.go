package scoring

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/domain"
)

func dim(d domain.Dimension, score float64) domain.DimensionScore {
	return domain.DimensionScore{EvaluationID: "eval-1", Dimension: d, Score: score, Confidence: 1}
}

func fullSet() []domain.DimensionScore {
	return []domain.DimensionScore{
		dim(domain.DimCrawlerAccess, 90),
		dim(domain.DimLLMsTxt, 80),
		dim(domain.DimStructuredData, 70),
		dim(domain.DimBrandRecognition, 60),
		dim(domain.DimSentiment, 100),
		dim(domain.DimProductVisibility, 50),
	}
}

func TestGradeFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Grade
	}{
		{100, domain.GradeA},
		{95, domain.GradeA},
		{90, domain.GradeA},
		{89.99, domain.GradeB},
		{85, domain.GradeB},
		{80, domain.GradeB},
		{75, domain.GradeC},
		{70, domain.GradeC},
		{65, domain.GradeD},
		{60, domain.GradeD},
		{59.99, domain.GradeF},
		{40, domain.GradeF},
		{0, domain.GradeF},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFromScore(tt.score), "score %v", tt.score)
	}
}

func TestCalculatePillarScores(t *testing.T) {
	t.Run("mean per pillar", func(t *testing.T) {
		got := CalculatePillarScores(fullSet())
		assert.InDelta(t, 80, got[domain.PillarInfrastructure], 1e-9)
		assert.InDelta(t, 80, got[domain.PillarPerception], 1e-9)
		assert.InDelta(t, 50, got[domain.PillarCommerce], 1e-9)
	})

	t.Run("absent pillar omitted not zero", func(t *testing.T) {
		got := CalculatePillarScores([]domain.DimensionScore{dim(domain.DimCrawlerAccess, 40)})
		require.Len(t, got, 1)
		_, ok := got[domain.PillarCommerce]
		assert.False(t, ok)
	})

	t.Run("unknown dimensions ignored", func(t *testing.T) {
		got := CalculatePillarScores([]domain.DimensionScore{dim("made_up", 10)})
		assert.Empty(t, got)
	})

	t.Run("out of range scores are clamped", func(t *testing.T) {
		got := CalculatePillarScores([]domain.DimensionScore{
			dim(domain.DimCrawlerAccess, 140),
			dim(domain.DimLLMsTxt, -20),
		})
		assert.InDelta(t, 50, got[domain.PillarInfrastructure], 1e-9)
	})
}

func TestCalculateOverallScore(t *testing.T) {
	t.Run("weighted across all pillars", func(t *testing.T) {
		got, ok := CalculateOverallScore(fullSet())
		require.True(t, ok)
		assert.InDelta(t, 74, got, 1e-9)
		assert.Equal(t, domain.GradeC, GradeFromScore(got))
	})

	t.Run("missing pillar weight is redistributed", func(t *testing.T) {
		got, ok := CalculateOverallScore([]domain.DimensionScore{
			dim(domain.DimCrawlerAccess, 80),
			dim(domain.DimSentiment, 60),
		})
		require.True(t, ok)
		assert.InDelta(t, 70, got, 1e-9)
	})

	t.Run("infrastructure only equals infrastructure pillar", func(t *testing.T) {
		dims := []domain.DimensionScore{
			dim(domain.DimCrawlerAccess, 75),
			dim(domain.DimStructuredData, 64),
		}
		got, ok := CalculateOverallScore(dims)
		require.True(t, ok)
		assert.InDelta(t, CalculatePillarScores(dims)[domain.PillarInfrastructure], got, 1e-9)
	})

	t.Run("no pillars", func(t *testing.T) {
		_, ok := CalculateOverallScore(nil)
		assert.False(t, ok)
	})
}

func TestOrderIndependence(t *testing.T) {
	base := fullSet()
	wantOverall, _ := CalculateOverallScore(base)
	wantExt := IdentifyDimensionExtremes(base)
	wantHybrid := HybridView(base)

	reversed := slices.Clone(base)
	slices.Reverse(reversed)
	rotated := append(slices.Clone(base[3:]), base[:3]...)

	for _, dims := range [][]domain.DimensionScore{reversed, rotated} {
		got, _ := CalculateOverallScore(dims)
		assert.Equal(t, wantOverall, got)
		assert.Equal(t, wantExt, IdentifyDimensionExtremes(dims))
		assert.Equal(t, wantHybrid, HybridView(dims))
	}
}

func TestIdentifyDimensionExtremes(t *testing.T) {
	t.Run("weighted opportunity differs from weakest", func(t *testing.T) {
		ext := IdentifyDimensionExtremes(fullSet())
		assert.Equal(t, domain.DimSentiment, ext.Strongest)
		assert.Equal(t, domain.DimProductVisibility, ext.Weakest)
		// (100-60)*0.4 = 16 beats (100-50)*0.2 = 10.
		assert.Equal(t, domain.DimBrandRecognition, ext.BiggestOpportunity)
	})

	t.Run("ties broken by name", func(t *testing.T) {
		ext := IdentifyDimensionExtremes([]domain.DimensionScore{
			dim(domain.DimSentiment, 70),
			dim(domain.DimCitationShare, 70),
		})
		assert.Equal(t, domain.DimCitationShare, ext.Strongest)
		assert.Equal(t, domain.DimCitationShare, ext.Weakest)
		assert.Equal(t, domain.DimCitationShare, ext.BiggestOpportunity)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, Extremes{}, IdentifyDimensionExtremes(nil))
	})
}

func TestEngineSummarize(t *testing.T) {
	e := NewEngine()

	sum, err := e.Summarize(fullSet())
	require.NoError(t, err)
	assert.InDelta(t, 74, sum.OverallScore, 1e-9)
	assert.Equal(t, domain.GradeC, sum.Grade)
	assert.Equal(t, domain.DimProductVisibility, sum.Extremes.Weakest)
	assert.Len(t, sum.PillarScores, 3)

	_, err = e.Summarize(nil)
	assert.ErrorIs(t, err, domain.ErrNoDimensionScores)
}

func TestEngineSummarize_JustBelowGradeBoundary(t *testing.T) {
	dims := []domain.DimensionScore{
		dim(domain.DimCrawlerAccess, 90),
		dim(domain.DimLLMsTxt, 90),
		dim(domain.DimStructuredData, 89.99),
	}

	sum, err := NewEngine().Summarize(dims)
	require.NoError(t, err)
	pillar := sum.PillarScores[domain.PillarInfrastructure]
	assert.InDelta(t, 269.99/3, pillar, 1e-9)
	assert.Less(t, pillar, 90.0)
	assert.Less(t, sum.OverallScore, 90.0)
	assert.Equal(t, domain.GradeB, sum.Grade)
}

func TestEngineSummarize_OnGradeBoundary(t *testing.T) {
	dims := []domain.DimensionScore{
		dim(domain.DimCrawlerAccess, 90),
		dim(domain.DimBrandRecognition, 90),
		dim(domain.DimRecommendationRate, 90),
	}

	sum, err := NewEngine().Summarize(dims)
	require.NoError(t, err)
	assert.Equal(t, 90.0, sum.OverallScore)
	assert.Equal(t, domain.GradeA, sum.Grade)
}

func TestEngineCustomWeights(t *testing.T) {
	e := NewEngine(WithPillarWeights(map[domain.Pillar]float64{
		domain.PillarInfrastructure: 1,
	}))
	got, ok := e.CalculateOverallScore(fullSet())
	require.True(t, ok)
	assert.InDelta(t, 80, got, 1e-9)
}

func TestScoreStaysInRange(t *testing.T) {
	for _, s := range []float64{0, 0.01, 33.3, 99.99, 100} {
		dims := []domain.DimensionScore{
			dim(domain.DimCrawlerAccess, s),
			dim(domain.DimBrandRecognition, s),
			dim(domain.DimRecommendationRate, s),
		}
		got, ok := CalculateOverallScore(dims)
		require.True(t, ok)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
		for _, p := range CalculatePillarScores(dims) {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 100.0)
		}
	}
}
