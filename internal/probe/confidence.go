package probe

import (
	"math"
	"slices"

	"github.com/ahrav/go-discover/internal/domain"
)

// TrustThreshold is the minimum confidence for a result to be trusted.
const TrustThreshold = 0.5

// uncorroborated is the agreement assigned to a lone valid result.
const uncorroborated = 0.8

// scoreConfidence sets Confidence and IsTrusted on every result of one spec:
// confidence = validity × provider weight × agreement with the median of
// the valid scores.
func scoreConfidence(results []domain.ProbeResult, weights map[string]float64) {
	var scores []float64
	for _, r := range results {
		if r.WasValid && r.Score != nil {
			scores = append(scores, *r.Score)
		}
	}
	med := median(scores)

	for i := range results {
		r := &results[i]
		if !r.WasValid || r.Score == nil {
			r.Confidence = 0
			r.IsTrusted = false
			continue
		}
		agreement := uncorroborated
		if len(scores) > 1 {
			agreement = 1 - math.Abs(*r.Score-med)/100
		}
		r.Confidence = domain.Clamp01(providerWeight(weights, r.Provider) * agreement)
		r.IsTrusted = r.Confidence >= TrustThreshold
	}
}

func providerWeight(weights map[string]float64, provider string) float64 {
	if w, ok := weights[provider]; ok && w > 0 {
		return w
	}
	return 1
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
