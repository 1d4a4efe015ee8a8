package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/httpapi"
	"github.com/ahrav/go-discover/internal/scoring"
)

// CreateEvaluationRequest is the body of POST /api/v1/evaluations.
type CreateEvaluationRequest struct {
	Brand domain.Brand `json:"brand" validate:"required"`
	Tier  domain.Tier  `json:"tier"  validate:"required"`
}

// DimensionView is one dimension as shown to clients.
type DimensionView struct {
	Dimension       domain.Dimension `json:"dimension"`
	Pillar          domain.Pillar    `json:"pillar"`
	Score           float64          `json:"score"`
	Confidence      float64          `json:"confidence"`
	Explanation     string           `json:"explanation"`
	Recommendations []string         `json:"recommendations"`
}

// EvaluationResponse is the client view of an evaluation. It reports
// progress coarsely and never names agents.
type EvaluationResponse struct {
	ID                 string                    `json:"id"`
	BrandID            string                    `json:"brandId"`
	WebsiteURL         string                    `json:"websiteUrl"`
	Tier               domain.Tier               `json:"tier"`
	Status             domain.EvaluationStatus   `json:"status"`
	Progress           scoring.ProgressLevel     `json:"progress"`
	OverallScore       *float64                  `json:"overallScore,omitempty"`
	Grade              domain.Grade              `json:"grade,omitempty"`
	PillarScores       map[domain.Pillar]float64 `json:"pillarScores,omitempty"`
	Strongest          domain.Dimension          `json:"strongestDimension,omitempty"`
	Weakest            domain.Dimension          `json:"weakestDimension,omitempty"`
	BiggestOpportunity domain.Dimension          `json:"biggestOpportunity,omitempty"`
	ReducedReliability bool                      `json:"reducedReliability"`
	Dimensions         []DimensionView           `json:"dimensions"`
	Error              string                    `json:"error,omitempty"`
	CreatedAt          time.Time                 `json:"createdAt"`
	CompletedAt        *time.Time                `json:"completedAt,omitempty"`
}

func (s *Server) createEvaluation(c *gin.Context) {
	var req CreateEvaluationRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Abort(c, err)
		return
	}
	e, err := s.orch.RunEvaluation(c.Request.Context(), req.Brand, req.Tier)
	if err != nil {
		httpapi.Abort(c, err)
		return
	}
	dims, err := s.store.ListDimensionScores(c.Request.Context(), e.ID)
	if err != nil {
		httpapi.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(e, dims))
}

func (s *Server) getEvaluation(c *gin.Context) {
	e, dims, ok := s.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.view(e, dims))
}

func (s *Server) getHybrid(c *gin.Context) {
	e, dims, ok := s.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluationId": e.ID,
		"status":       e.Status,
		"hybrid":       s.engine.HybridView(dims),
	})
}

func (s *Server) redispatch(c *gin.Context) {
	id, agent := c.Param("id"), c.Param("agent")
	if err := s.orch.Redispatch(c.Request.Context(), id, agent); err != nil {
		httpapi.Abort(c, err)
		return
	}
	s.logger.Info("operator redispatch", "evaluation_id", id, "agent", agent)
	c.JSON(http.StatusAccepted, gin.H{"success": true, "evaluationId": id})
}

func (s *Server) load(c *gin.Context) (*domain.Evaluation, []domain.DimensionScore, bool) {
	ctx := c.Request.Context()
	e, err := s.store.GetEvaluation(ctx, c.Param("id"))
	if err != nil {
		httpapi.Abort(c, err)
		return nil, nil, false
	}
	dims, err := s.store.ListDimensionScores(ctx, e.ID)
	if err != nil {
		httpapi.Abort(c, err)
		return nil, nil, false
	}
	return e, dims, true
}

func (s *Server) view(e *domain.Evaluation, dims []domain.DimensionScore) EvaluationResponse {
	resp := EvaluationResponse{
		ID:                 e.ID,
		BrandID:            e.BrandID,
		WebsiteURL:         e.WebsiteURL,
		Tier:               e.Tier,
		Status:             e.Status,
		OverallScore:       e.OverallScore,
		Grade:              e.Grade,
		PillarScores:       e.PillarScores,
		Strongest:          e.Strongest,
		Weakest:            e.Weakest,
		BiggestOpportunity: e.BiggestOpportunity,
		ReducedReliability: e.ReducedReliability,
		Dimensions:         make([]DimensionView, 0, len(dims)),
		Error:              e.Error,
		CreatedAt:          e.CreatedAt,
		CompletedAt:        e.CompletedAt,
	}
	if e.Status.IsTerminal() {
		resp.Progress = scoring.ProgressComplete
	} else {
		resp.Progress = scoring.ProgressAgainst(dims, s.registry.ExpectedPillars(e.Tier))
	}
	for _, d := range dims {
		pillar, _ := domain.PillarOf(d.Dimension)
		resp.Dimensions = append(resp.Dimensions, DimensionView{
			Dimension:       d.Dimension,
			Pillar:          pillar,
			Score:           d.Score,
			Confidence:      d.Confidence,
			Explanation:     d.Explanation,
			Recommendations: d.Recommendations,
		})
	}
	return resp
}
