package scoring

import (
	"slices"

	"github.com/ahrav/go-discover/internal/domain"
)

// Area is one of the customer-facing groupings used by the hybrid view.
type Area string

const (
	AreaVisibility Area = "visibility"
	AreaTrust      Area = "trust"
	AreaConversion Area = "conversion"
)

// Areas lists hybrid areas in display order.
func Areas() []Area { return []Area{AreaVisibility, AreaTrust, AreaConversion} }

// Taxonomy describes the many-to-many remap from dimensions to areas.
// A dimension may feed several areas with different weights.
type Taxonomy struct {
	AreaWeights map[Area]float64
	Mapping     map[Area]map[domain.Dimension]float64
}

// DefaultTaxonomy returns the standard visibility/trust/conversion remap.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		AreaWeights: map[Area]float64{
			AreaVisibility: 0.40,
			AreaTrust:      0.35,
			AreaConversion: 0.25,
		},
		Mapping: map[Area]map[domain.Dimension]float64{
			AreaVisibility: {
				domain.DimCrawlerAccess:    0.30,
				domain.DimLLMsTxt:          0.10,
				domain.DimBrandRecognition: 0.30,
				domain.DimCitationShare:    0.30,
			},
			AreaTrust: {
				domain.DimStructuredData:    0.30,
				domain.DimKnowledgeAccuracy: 0.40,
				domain.DimSentiment:         0.30,
			},
			AreaConversion: {
				domain.DimProductVisibility:  0.50,
				domain.DimRecommendationRate: 0.30,
				domain.DimStructuredData:     0.20,
			},
		},
	}
}

// Hybrid is the relabelled presentation of a set of dimension scores.
type Hybrid struct {
	Areas        map[Area]float64 `json:"areas"`
	OverallScore float64          `json:"overallScore"`
	Grade        domain.Grade     `json:"grade"`
	Available    bool             `json:"available"`
}

// HybridView remaps dimension scores into areas using the default taxonomy.
func HybridView(dims []domain.DimensionScore) Hybrid {
	return defaultEngine.HybridView(dims)
}

// HybridView remaps dimension scores into areas. Area scores are weighted
// means over the mapped dimensions that are present; area weights of empty
// areas are redistributed over the rest.
func (e *Engine) HybridView(dims []domain.DimensionScore) Hybrid {
	byDim := make(map[domain.Dimension]float64, len(dims))
	counts := make(map[domain.Dimension]int, len(dims))
	for _, d := range sorted(dims) {
		byDim[d.Dimension] += domain.ClampScore(d.Score)
		counts[d.Dimension]++
	}
	for dim, n := range counts {
		byDim[dim] /= float64(n)
	}

	areas := make(map[Area]float64, len(e.hybrid.Mapping))
	for area, mapping := range e.hybrid.Mapping {
		if score, ok := weightedMean(presentOnly(byDim, mapping), mapping); ok {
			areas[area] = score
		}
	}

	overall, ok := weightedMean(areas, e.hybrid.AreaWeights)
	h := Hybrid{Areas: areas, Available: ok}
	if ok {
		h.OverallScore = overall
		h.Grade = GradeFromScore(overall)
	}
	return h
}

func presentOnly(scores map[domain.Dimension]float64, mapping map[domain.Dimension]float64) map[domain.Dimension]float64 {
	keys := make([]domain.Dimension, 0, len(mapping))
	for d := range mapping {
		keys = append(keys, d)
	}
	slices.Sort(keys)

	out := make(map[domain.Dimension]float64, len(keys))
	for _, d := range keys {
		if s, ok := scores[d]; ok {
			out[d] = s
		}
	}
	return out
}
