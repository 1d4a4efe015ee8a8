package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/finalizer"
	"github.com/ahrav/go-discover/internal/httpapi"
)

// CallbackBasePath prefixes the callback routes; the orchestrator's
// callback URL must point here.
const CallbackBasePath = "/api/v1/bridge/callbacks"

// Updater applies agent state changes; the orchestrator implements it.
type Updater interface {
	ApplyAgentUpdate(ctx context.Context, u domain.AgentUpdate) (bool, error)
}

// Finalizer checks an evaluation for completion.
type Finalizer interface {
	CheckAndFinalizeEvaluation(ctx context.Context, evaluationID string) (finalizer.Outcome, error)
}

// TokenVerifier checks a callback token against an evaluation id.
type TokenVerifier interface {
	Verify(token, evaluationID string) error
}

// ProgressRequest reports an intermediate state of one agent.
type ProgressRequest struct {
	EvaluationID string                 `json:"evaluationId,omitempty"`
	JobID        string                 `json:"jobId,omitempty"`
	Token        string                 `json:"token,omitempty"`
	AgentName    string                 `json:"agentName" validate:"required"`
	Status       domain.ExecutionStatus `json:"status"    validate:"required,oneof=pending running completed failed skipped"`
	Result       json.RawMessage        `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Message      string                 `json:"message,omitempty"`
}

// AgentResult is the terminal outcome of one agent in a completion callback.
type AgentResult struct {
	AgentName       string                 `json:"agentName" validate:"required"`
	Status          domain.ExecutionStatus `json:"status"    validate:"required,oneof=completed failed skipped"`
	Result          json.RawMessage        `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Degraded        bool                   `json:"degraded,omitempty"`
	ExecutionTimeMs int64                  `json:"executionTimeMs,omitempty" validate:"min=0"`
}

// Job-level statuses reported in a completion callback.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobSummary tallies the results of a fleet job.
type JobSummary struct {
	Total      int   `json:"total"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"durationMs,omitempty"`
}

// Summarize tallies results by status.
func Summarize(results []AgentResult, elapsed time.Duration) JobSummary {
	s := JobSummary{Total: len(results), DurationMs: elapsed.Milliseconds()}
	for _, r := range results {
		switch r.Status {
		case domain.ExecutionCompleted:
			s.Completed++
		case domain.ExecutionFailed:
			s.Failed++
		case domain.ExecutionSkipped:
			s.Skipped++
		}
	}
	return s
}

// CompleteRequest carries the results of a finished fleet job. Results may
// be empty when the job failed before any agent reported.
type CompleteRequest struct {
	EvaluationID string        `json:"evaluationId,omitempty"`
	JobID        string        `json:"jobId,omitempty"`
	Token        string        `json:"token,omitempty"`
	Status       string        `json:"status,omitempty" validate:"omitempty,oneof=completed failed"`
	Results      []AgentResult `json:"results" validate:"dive"`
	Summary      *JobSummary   `json:"summary,omitempty"`
}

// ProgressResponse answers a progress callback.
type ProgressResponse struct {
	Success      bool   `json:"success"`
	EvaluationID string `json:"evaluationId"`
	Applied      bool   `json:"applied"`
}

// CompleteResponse answers a completion callback. It is always sent with
// 200 once the caller is authenticated; Success is false when any result
// was rejected.
type CompleteResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	EvaluationID string            `json:"evaluationId"`
	Status       string            `json:"status,omitempty"`
	Applied      int               `json:"applied"`
	Ignored      int               `json:"ignored"`
	Rejected     map[string]string `json:"rejected,omitempty"`
	Outcome      finalizer.Outcome `json:"outcome,omitempty"`
}

// CallbackHandler receives progress and completion callbacks from the fleet.
type CallbackHandler struct {
	updater   Updater
	finalizer Finalizer
	verifier  TokenVerifier
	logger    *slog.Logger
}

// NewCallbackHandler wires the callback routes to their collaborators.
func NewCallbackHandler(u Updater, f Finalizer, v TokenVerifier) *CallbackHandler {
	return &CallbackHandler{
		updater:   u,
		finalizer: f,
		verifier:  v,
		logger:    slog.Default().With("component", "bridge_callbacks"),
	}
}

// Register mounts the callback routes on r.
func (h *CallbackHandler) Register(r gin.IRouter) {
	g := r.Group(CallbackBasePath, httpapi.Recovery(h.logger))
	g.POST("/:evaluationId/progress", h.Progress)
	g.POST("/:evaluationId/complete", h.Complete)
}

// Progress handles POST .../:evaluationId/progress.
func (h *CallbackHandler) Progress(c *gin.Context) {
	evaluationID := c.Param("evaluationId")
	header, ok := h.authenticate(c, evaluationID)
	if !ok {
		return
	}

	var req ProgressRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Abort(c, err)
		return
	}
	if !h.authorizeBody(c, header, req.Token, req.EvaluationID, evaluationID) {
		return
	}

	logger := h.logger.With("evaluation_id", evaluationID, "agent", req.AgentName, "job_id", req.JobID)
	if req.Message != "" {
		logger.Debug("fleet progress", "status", req.Status, "message", req.Message)
	}
	applied, err := h.updater.ApplyAgentUpdate(c.Request.Context(), domain.AgentUpdate{
		EvaluationID: evaluationID,
		AgentName:    req.AgentName,
		Status:       req.Status,
		Result:       req.Result,
		Error:        req.Error,
		JobID:        req.JobID,
	})
	if err != nil {
		logger.Warn("progress rejected", "error", err)
		httpapi.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, ProgressResponse{Success: true, EvaluationID: evaluationID, Applied: applied})
}

// Complete handles POST .../:evaluationId/complete. Each result is applied
// independently; the finalizer runs afterwards whatever the outcome.
func (h *CallbackHandler) Complete(c *gin.Context) {
	evaluationID := c.Param("evaluationId")
	header, ok := h.authenticate(c, evaluationID)
	if !ok {
		return
	}

	var req CompleteRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Abort(c, err)
		return
	}
	if !h.authorizeBody(c, header, req.Token, req.EvaluationID, evaluationID) {
		return
	}

	ctx := c.Request.Context()
	logger := h.logger.With("evaluation_id", evaluationID, "job_id", req.JobID)
	if req.Summary != nil {
		logger.Info("job summary", "status", req.Status, "total", req.Summary.Total,
			"completed", req.Summary.Completed, "failed", req.Summary.Failed, "skipped", req.Summary.Skipped)
	}
	if req.Status == JobStatusFailed {
		logger.Warn("fleet job reported failure", "results", len(req.Results))
	}
	resp := CompleteResponse{EvaluationID: evaluationID, Status: req.Status}
	for _, r := range req.Results {
		applied, err := h.updater.ApplyAgentUpdate(ctx, domain.AgentUpdate{
			EvaluationID:  evaluationID,
			AgentName:     r.AgentName,
			Status:        r.Status,
			Result:        r.Result,
			Error:         r.Error,
			Degraded:      r.Degraded,
			ExecutionTime: time.Duration(r.ExecutionTimeMs) * time.Millisecond,
			JobID:         req.JobID,
		})
		switch {
		case err != nil:
			logger.Warn("result rejected", "agent", r.AgentName, "error", err)
			if resp.Rejected == nil {
				resp.Rejected = make(map[string]string)
			}
			resp.Rejected[r.AgentName] = err.Error()
		case applied:
			resp.Applied++
		default:
			resp.Ignored++
		}
	}

	outcome, err := h.finalizer.CheckAndFinalizeEvaluation(context.WithoutCancel(ctx), evaluationID)
	if err != nil {
		var ferr *domain.FinalizationError
		if errors.As(err, &ferr) {
			logger.Error("finalization failed", "stage", ferr.Stage, "error", ferr.Cause)
		} else {
			logger.Error("finalization failed", "error", err)
		}
	}
	resp.Outcome = outcome
	resp.Success = len(resp.Rejected) == 0
	resp.Message = fmt.Sprintf("%d applied, %d ignored, %d rejected", resp.Applied, resp.Ignored, len(resp.Rejected))
	logger.Info("job completed", "applied", resp.Applied, "ignored", resp.Ignored,
		"rejected", len(resp.Rejected), "outcome", outcome)
	c.JSON(http.StatusOK, resp)
}

// authenticate requires a bearer token that verifies for the path
// evaluation. It runs before the body is read.
func (h *CallbackHandler) authenticate(c *gin.Context, evaluationID string) (string, bool) {
	token := httpapi.BearerToken(c)
	if token == "" {
		h.logger.Warn("callback unauthorized", "evaluation_id", evaluationID, "path", c.FullPath(), "error", "missing bearer token")
		httpapi.AbortWithStatus(c, http.StatusUnauthorized, ErrInvalidToken)
		return "", false
	}
	if err := h.verifier.Verify(token, evaluationID); err != nil {
		h.logger.Warn("callback unauthorized", "evaluation_id", evaluationID, "path", c.FullPath(), "error", err)
		httpapi.AbortWithStatus(c, http.StatusUnauthorized, ErrInvalidToken)
		return "", false
	}
	return token, true
}

// authorizeBody rejects a body that names another evaluation or carries a
// token different from the verified header.
func (h *CallbackHandler) authorizeBody(c *gin.Context, header, bodyToken, bodyEvalID, evaluationID string) bool {
	switch {
	case bodyEvalID != "" && bodyEvalID != evaluationID:
		h.logger.Warn("callback evaluation mismatch", "evaluation_id", evaluationID, "body_evaluation_id", bodyEvalID)
	case bodyToken != "" && bodyToken != header:
		h.logger.Warn("callback token mismatch", "evaluation_id", evaluationID)
	default:
		return true
	}
	httpapi.AbortWithStatus(c, http.StatusUnauthorized, ErrInvalidToken)
	return false
}
