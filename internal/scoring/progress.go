package scoring

import "github.com/ahrav/go-discover/internal/domain"

// ProgressLevel is the coarse progress shown to clients while an evaluation
// is running. It intentionally hides which agents have reported.
type ProgressLevel string

const (
	ProgressNone     ProgressLevel = "none"
	ProgressLow      ProgressLevel = "low"
	ProgressMid      ProgressLevel = "mid"
	ProgressComplete ProgressLevel = "complete"
)

// Progress derives a coarse level from which pillars have at least one score.
// One pillar is low, two are mid, all three are complete.
func Progress(dims []domain.DimensionScore) ProgressLevel {
	return ProgressAgainst(dims, domain.Pillars())
}

// ProgressAgainst is Progress for tiers that only expect a subset of
// pillars. Covering every expected pillar counts as complete.
func ProgressAgainst(dims []domain.DimensionScore, expected []domain.Pillar) ProgressLevel {
	present := make(map[domain.Pillar]bool, 3)
	for _, d := range dims {
		if p, ok := domain.PillarOf(d.Dimension); ok {
			present[p] = true
		}
	}
	if len(present) == 0 {
		return ProgressNone
	}

	covered := 0
	for _, p := range expected {
		if present[p] {
			covered++
		}
	}
	switch {
	case len(expected) > 0 && covered == len(expected):
		return ProgressComplete
	case len(present) >= 2:
		return ProgressMid
	default:
		return ProgressLow
	}
}
