// Package activity holds the Temporal activities behind the durable
// finalization sweep.
package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/finalizer"
	base "github.com/ahrav/go-discover/pkg/activity"
	"github.com/ahrav/go-discover/pkg/events"
)

// Finalizer is the part of the finalizer the activities drive.
type Finalizer interface {
	Sweep(ctx context.Context) (finalizer.SweepReport, error)
	CheckAndFinalizeEvaluation(ctx context.Context, evaluationID string) (finalizer.Outcome, error)
}

// SweepInput is empty today; it exists so fields can be added without
// breaking workflow histories.
type SweepInput struct{}

// SweepOutput reports one pass.
type SweepOutput struct {
	Report finalizer.SweepReport `json:"report"`
}

// FinalizeInput names one evaluation.
type FinalizeInput struct {
	EvaluationID string `json:"evaluationId"`
}

// FinalizeOutput carries the finalizer's verdict.
type FinalizeOutput struct {
	EvaluationID string            `json:"evaluationId"`
	Outcome      finalizer.Outcome `json:"outcome"`
}

// Activities run finalization under Temporal.
type Activities struct {
	base.BaseActivities
	finalizer Finalizer
}

// NewActivities binds the activities to f.
func NewActivities(b base.BaseActivities, f Finalizer) *Activities {
	return &Activities{BaseActivities: b, finalizer: f}
}

// SweepEvaluations checks every non-terminal evaluation once. Failing to
// list evaluations is retryable; per-evaluation failures are on the report.
func (a *Activities) SweepEvaluations(ctx context.Context, _ SweepInput) (*SweepOutput, error) {
	wfCtx := a.GetWorkflowContext(ctx)
	a.RecordHeartbeat(ctx, "sweeping")

	report, err := a.finalizer.Sweep(ctx)
	if err != nil {
		return nil, retryable("SweepEvaluations", err, "sweep failed")
	}

	base.SafeLog(ctx, "sweep pass finished",
		"workflow_id", wfCtx.WorkflowID,
		"checked", report.Checked,
		"completed", report.Completed,
		"failed", report.Failed,
		"errors", len(report.Errors))

	if report.Completed+report.Failed > 0 {
		a.emitSweep(ctx, wfCtx, report)
	}
	return &SweepOutput{Report: report}, nil
}

// FinalizeEvaluation runs the finalizer for one evaluation.
func (a *Activities) FinalizeEvaluation(ctx context.Context, in FinalizeInput) (*FinalizeOutput, error) {
	if in.EvaluationID == "" {
		return nil, nonRetryable("FinalizeEvaluation", ErrActivityValidation, "evaluationId is required")
	}

	outcome, err := a.finalizer.CheckAndFinalizeEvaluation(ctx, in.EvaluationID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, nonRetryable("FinalizeEvaluation", err, "unknown evaluation")
	case err != nil:
		return nil, retryable("FinalizeEvaluation", err, "finalization failed")
	}
	return &FinalizeOutput{EvaluationID: in.EvaluationID, Outcome: outcome}, nil
}

func (a *Activities) emitSweep(ctx context.Context, wfCtx base.WorkflowContext, r finalizer.SweepReport) {
	payload := events.SweepCompleted{
		WorkflowID: wfCtx.WorkflowID,
		Checked:    r.Checked,
		Completed:  r.Completed,
		Failed:     r.Failed,
		Pending:    r.Pending,
		Errors:     len(r.Errors),
	}
	discriminator := fmt.Sprintf("%s/%s/%s", wfCtx.WorkflowID, wfCtx.RunID, wfCtx.ActivityID)
	env, err := events.NewEnvelope(events.TypeSweepCompleted, a.Source(), "", discriminator, payload)
	if err != nil {
		base.SafeLogError(ctx, "build sweep event", "error", err)
		return
	}
	a.EmitEventSafe(ctx, env, "SweepCompleted")
}
