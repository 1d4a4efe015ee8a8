package domain

import "time"

// Pillar is one of the three weighted groupings of dimensions.
type Pillar string

const (
	PillarInfrastructure Pillar = "infrastructure"
	PillarPerception     Pillar = "perception"
	PillarCommerce       Pillar = "commerce"
)

// Pillars lists every pillar in canonical order.
func Pillars() []Pillar {
	return []Pillar{PillarInfrastructure, PillarPerception, PillarCommerce}
}

// Dimension names one measured facet of AI discoverability.
// Kept as string type so probe catalogues can introduce dimensions without
// touching this package; unknown dimensions are simply unmapped.
type Dimension string

// Standard dimensions produced by the built-in agents.
const (
	DimCrawlerAccess      Dimension = "crawler_access"      // AI crawlers allowed by robots.txt
	DimLLMsTxt            Dimension = "llms_txt"            // presence and quality of /llms.txt
	DimStructuredData     Dimension = "structured_data"     // schema.org JSON-LD coverage
	DimBrandRecognition   Dimension = "brand_recognition"   // models know the brand
	DimKnowledgeAccuracy  Dimension = "knowledge_accuracy"  // what models say is correct
	DimSentiment          Dimension = "sentiment"           // tone of model answers
	DimCitationShare      Dimension = "citation_share"      // share of voice against competitors
	DimProductVisibility  Dimension = "product_visibility"  // products surface in shopping answers
	DimRecommendationRate Dimension = "recommendation_rate" // brand is recommended when asked
)

var dimensionPillars = map[Dimension]Pillar{
	DimCrawlerAccess:      PillarInfrastructure,
	DimLLMsTxt:            PillarInfrastructure,
	DimStructuredData:     PillarInfrastructure,
	DimBrandRecognition:   PillarPerception,
	DimKnowledgeAccuracy:  PillarPerception,
	DimSentiment:          PillarPerception,
	DimCitationShare:      PillarPerception,
	DimProductVisibility:  PillarCommerce,
	DimRecommendationRate: PillarCommerce,
}

// PillarOf returns the pillar a dimension belongs to.
func PillarOf(d Dimension) (Pillar, bool) {
	p, ok := dimensionPillars[d]
	return p, ok
}

// DimensionScore is the canonical per-dimension result of an evaluation.
type DimensionScore struct {
	EvaluationID    string    `json:"evaluationId"`
	Dimension       Dimension `json:"dimension"       validate:"required"`
	Score           float64   `json:"score"           validate:"min=0,max=100"`
	Confidence      float64   `json:"confidence"      validate:"min=0,max=1"`
	Explanation     string    `json:"explanation"`
	Recommendations []string  `json:"recommendations"`
	SourceAgent     string    `json:"sourceAgent,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Validate checks the score is within range and names a dimension.
func (d DimensionScore) Validate() error { return ValidateStruct(d) }

// Grade is the letter grade derived from the overall score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// ClampScore bounds a score to [0,100].
func ClampScore(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

// Clamp01 bounds a value to [0,1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
