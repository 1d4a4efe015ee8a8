// Package domain defines the core types of the discoverability evaluation
// engine: evaluations, per-agent executions, dimension and pillar scores,
// probe results, and the error taxonomy shared by every component.
//
// Lifecycle:
//   - Evaluation: pending → processing (orchestrator) → completed | failed (finalizer).
//   - AgentExecution: pending → running → completed | failed | skipped, guarded by
//     a status rank so terminal states never regress.
//   - DimensionScore: derived once per dimension from a completed execution.
package domain

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

// EvaluationStatus is the lifecycle state of an Evaluation.
type EvaluationStatus string

const (
	// EvaluationPending is the state right after creation.
	EvaluationPending EvaluationStatus = "pending"
	// EvaluationProcessing means agents have been dispatched.
	EvaluationProcessing EvaluationStatus = "processing"
	// EvaluationCompleted means scores are frozen.
	EvaluationCompleted EvaluationStatus = "completed"
	// EvaluationFailed means finalization gave up without any dimension scores.
	EvaluationFailed EvaluationStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s EvaluationStatus) IsTerminal() bool {
	return s == EvaluationCompleted || s == EvaluationFailed
}

// Tier names the product tier an evaluation runs under. The expected agent
// set per tier is owned by configuration, not by this type.
type Tier string

const (
	TierFree       Tier = "free"
	TierIndexPro   Tier = "index-pro"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every known tier in ascending order.
func Tiers() []Tier { return []Tier{TierFree, TierIndexPro, TierEnterprise} }

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return slices.Contains(Tiers(), t) }

// Brand is the read-only collaborator record an evaluation is run for.
type Brand struct {
	ID         string `json:"id"         validate:"required"`
	WebsiteURL string `json:"websiteUrl" validate:"required,http_url"`
	Name       string `json:"name,omitempty"`
}

// Validate checks the brand carries an id and an absolute http(s) URL.
func (b Brand) Validate() error { return ValidateStruct(b) }

// DisplayName returns Name, falling back to the website host without "www.".
func (b Brand) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	u, err := url.Parse(b.WebsiteURL)
	if err != nil || u.Host == "" {
		return b.WebsiteURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// Evaluation is the aggregate record of one discoverability run. It is
// created by the orchestrator and frozen by the finalizer.
type Evaluation struct {
	ID         string           `json:"id"`
	BrandID    string           `json:"brandId"`
	BrandName  string           `json:"brandName,omitempty"`
	WebsiteURL string           `json:"websiteUrl"`
	Tier       Tier             `json:"tier"`
	Status     EvaluationStatus `json:"status"`

	// Populated by the finalizer.
	OverallScore       *float64           `json:"overallScore,omitempty"`
	Grade              Grade              `json:"grade,omitempty"`
	PillarScores       map[Pillar]float64 `json:"pillarScores,omitempty"`
	Strongest          Dimension          `json:"strongestDimension,omitempty"`
	Weakest            Dimension          `json:"weakestDimension,omitempty"`
	BiggestOpportunity Dimension          `json:"biggestOpportunity,omitempty"`
	ReducedReliability bool               `json:"reducedReliability"`
	MissingAgents      []string           `json:"missingAgents,omitempty"`
	Error              string             `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewEvaluation builds a pending evaluation for brand under tier.
func NewEvaluation(id string, brand Brand, tier Tier, now time.Time) *Evaluation {
	return &Evaluation{
		ID:         id,
		BrandID:    brand.ID,
		BrandName:  brand.DisplayName(),
		WebsiteURL: brand.WebsiteURL,
		Tier:       tier,
		Status:     EvaluationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Brand reconstructs the collaborator record the evaluation was created from.
func (e *Evaluation) Brand() Brand {
	return Brand{ID: e.BrandID, WebsiteURL: e.WebsiteURL, Name: e.BrandName}
}

// Finalization carries everything the finalizer writes onto an evaluation in
// a single conditional update.
type Finalization struct {
	Status             EvaluationStatus
	OverallScore       *float64
	Grade              Grade
	PillarScores       map[Pillar]float64
	Strongest          Dimension
	Weakest            Dimension
	BiggestOpportunity Dimension
	ReducedReliability bool
	MissingAgents      []string
	Error              string
	CompletedAt        time.Time
}
