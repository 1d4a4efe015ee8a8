// Package scoring aggregates dimension scores into pillar scores, an overall
// score, a letter grade, and dimension extremes. Every function here is pure
// and independent of input order: inputs are copied and sorted by dimension
// name before any floating point accumulation so a partial progress view and
// the final aggregation never disagree on the same logical input.
package scoring

import (
	"cmp"
	"math"
	"slices"

	"github.com/ahrav/go-discover/internal/domain"
)

// Default pillar weights. A missing pillar's weight is redistributed
// proportionally across the pillars that are present.
const (
	InfrastructureWeight = 0.40
	PerceptionWeight     = 0.40
	CommerceWeight       = 0.20
)

// DefaultPillarWeights returns a fresh copy of the standard pillar weights.
func DefaultPillarWeights() map[domain.Pillar]float64 {
	return map[domain.Pillar]float64{
		domain.PillarInfrastructure: InfrastructureWeight,
		domain.PillarPerception:     PerceptionWeight,
		domain.PillarCommerce:       CommerceWeight,
	}
}

// Grade thresholds; a score exactly on a threshold earns the higher grade.
const (
	gradeAThreshold = 90
	gradeBThreshold = 80
	gradeCThreshold = 70
	gradeDThreshold = 60
)

// Extremes names the standout dimensions of an evaluation.
type Extremes struct {
	Strongest          domain.Dimension `json:"strongest"`
	Weakest            domain.Dimension `json:"weakest"`
	BiggestOpportunity domain.Dimension `json:"biggestOpportunity"`
}

// Summary is the full aggregation written onto a finalized evaluation.
type Summary struct {
	PillarScores map[domain.Pillar]float64 `json:"pillarScores"`
	OverallScore float64                   `json:"overallScore"`
	Grade        domain.Grade              `json:"grade"`
	Extremes     Extremes                  `json:"extremes"`
}

// Scorer is the aggregation contract the finalizer and API depend on.
type Scorer interface {
	Summarize(dims []domain.DimensionScore) (*Summary, error)
}

// Engine aggregates dimension scores with a fixed set of pillar weights.
// The zero value is not usable; construct with NewEngine.
type Engine struct {
	weights map[domain.Pillar]float64
	hybrid  Taxonomy
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPillarWeights overrides the default pillar weights.
func WithPillarWeights(w map[domain.Pillar]float64) Option {
	return func(e *Engine) {
		e.weights = make(map[domain.Pillar]float64, len(w))
		for p, v := range w {
			e.weights[p] = v
		}
	}
}

// WithTaxonomy overrides the hybrid view taxonomy.
func WithTaxonomy(t Taxonomy) Option {
	return func(e *Engine) { e.hybrid = t }
}

// NewEngine creates an engine with the default weights and hybrid taxonomy.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{weights: DefaultPillarWeights(), hybrid: DefaultTaxonomy()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// CalculatePillarScores returns the mean score of the dimensions mapped to
// each pillar. Pillars without any dimension in the input are omitted.
func CalculatePillarScores(dims []domain.DimensionScore) map[domain.Pillar]float64 {
	return defaultEngine.CalculatePillarScores(dims)
}

// CalculateOverallScore returns the weighted overall score using the default
// weights. The boolean is false when no pillar is present.
func CalculateOverallScore(dims []domain.DimensionScore) (float64, bool) {
	return defaultEngine.CalculateOverallScore(dims)
}

// IdentifyDimensionExtremes returns strongest, weakest, and biggest
// opportunity dimensions using the default weights.
func IdentifyDimensionExtremes(dims []domain.DimensionScore) Extremes {
	return defaultEngine.IdentifyDimensionExtremes(dims)
}

// GradeFromScore maps a 0-100 score onto a letter grade.
func GradeFromScore(score float64) domain.Grade {
	switch {
	case score >= gradeAThreshold:
		return domain.GradeA
	case score >= gradeBThreshold:
		return domain.GradeB
	case score >= gradeCThreshold:
		return domain.GradeC
	case score >= gradeDThreshold:
		return domain.GradeD
	default:
		return domain.GradeF
	}
}

// CalculatePillarScores implements the package-level function for this engine.
func (e *Engine) CalculatePillarScores(dims []domain.DimensionScore) map[domain.Pillar]float64 {
	sums := make(map[domain.Pillar]float64, len(e.weights))
	counts := make(map[domain.Pillar]int, len(e.weights))
	for _, d := range sorted(dims) {
		p, ok := domain.PillarOf(d.Dimension)
		if !ok {
			continue
		}
		sums[p] += domain.ClampScore(d.Score)
		counts[p]++
	}

	out := make(map[domain.Pillar]float64, len(counts))
	for p, n := range counts {
		out[p] = dropNoise(sums[p] / float64(n))
	}
	return out
}

// CalculateOverallScore implements the package-level function for this engine.
func (e *Engine) CalculateOverallScore(dims []domain.DimensionScore) (float64, bool) {
	return weightedMean(e.CalculatePillarScores(dims), e.weights)
}

// IdentifyDimensionExtremes implements the package-level function for this engine.
// Ties are broken by dimension name so the result is stable.
func (e *Engine) IdentifyDimensionExtremes(dims []domain.DimensionScore) Extremes {
	var ext Extremes
	ordered := sorted(dims)
	if len(ordered) == 0 {
		return ext
	}

	strongest, weakest := ordered[0], ordered[0]
	bestGap, haveGap := 0.0, false
	for _, d := range ordered {
		if d.Score > strongest.Score {
			strongest = d
		}
		if d.Score < weakest.Score {
			weakest = d
		}
		p, ok := domain.PillarOf(d.Dimension)
		if !ok {
			continue
		}
		gap := (100 - domain.ClampScore(d.Score)) * e.weights[p]
		if !haveGap || gap > bestGap {
			bestGap, haveGap = gap, true
			ext.BiggestOpportunity = d.Dimension
		}
	}
	ext.Strongest = strongest.Dimension
	ext.Weakest = weakest.Dimension
	if !haveGap {
		ext.BiggestOpportunity = weakest.Dimension
	}
	return ext
}

// Summarize computes pillars, overall score, grade, and extremes in one pass.
// It returns domain.ErrNoDimensionScores when no dimension maps to a pillar.
func (e *Engine) Summarize(dims []domain.DimensionScore) (*Summary, error) {
	pillars := e.CalculatePillarScores(dims)
	overall, ok := weightedMean(pillars, e.weights)
	if !ok {
		return nil, domain.ErrNoDimensionScores
	}
	return &Summary{
		PillarScores: pillars,
		OverallScore: overall,
		Grade:        GradeFromScore(overall),
		Extremes:     e.IdentifyDimensionExtremes(dims),
	}, nil
}

// weightedMean combines keyed values with weights, renormalizing over the
// keys that are present. Keys are visited in sorted order for determinism.
func weightedMean[K cmp.Ordered](values map[K]float64, weights map[K]float64) (float64, bool) {
	keys := make([]K, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var sum, total float64
	for _, k := range keys {
		w := weights[k]
		if w <= 0 {
			continue
		}
		sum += values[k] * w
		total += w
	}
	if total == 0 {
		return 0, false
	}
	return dropNoise(domain.ClampScore(sum / total)), true
}

func sorted(dims []domain.DimensionScore) []domain.DimensionScore {
	out := slices.Clone(dims)
	slices.SortFunc(out, func(a, b domain.DimensionScore) int {
		if c := cmp.Compare(a.Dimension, b.Dimension); c != 0 {
			return c
		}
		return cmp.Compare(a.Score, b.Score)
	})
	return out
}

// dropNoise removes accumulation error below 1e-9 so a weighted mean of
// pillars that all sit on a grade threshold still lands on it. It never
// moves a value across a threshold the way display rounding would.
func dropNoise(x float64) float64 {
	return math.Round(x*1e9) / 1e9
}
