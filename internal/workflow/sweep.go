package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-discover/internal/activity"
)

// Sweep defaults.
const (
	DefaultSweepInterval = time.Minute
	// DefaultPassesPerRun bounds history growth before continue-as-new.
	DefaultPassesPerRun = 500
)

// SweepWorkflowInput configures a sweep run.
type SweepWorkflowInput struct {
	Interval     time.Duration `json:"interval"`
	PassesPerRun int           `json:"passesPerRun"`
	// Forever continues as new after PassesPerRun passes instead of
	// returning.
	Forever bool `json:"forever"`
}

// SweepSummary totals the passes of one run.
type SweepSummary struct {
	Passes    int `json:"passes"`
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// SweepWorkflow runs SweepEvaluations every Interval. A failed pass is
// logged and the loop moves on; the next pass retries the same work.
func SweepWorkflow(ctx workflow.Context, in SweepWorkflowInput) (SweepSummary, error) {
	if in.Interval <= 0 {
		in.Interval = DefaultSweepInterval
	}
	if in.PassesPerRun <= 0 {
		in.PassesPerRun = DefaultPassesPerRun
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	logger := workflow.GetLogger(ctx)

	var (
		acts    *activity.Activities
		summary SweepSummary
	)
	for summary.Passes < in.PassesPerRun {
		var out activity.SweepOutput
		err := workflow.ExecuteActivity(ctx, acts.SweepEvaluations, activity.SweepInput{}).Get(ctx, &out)
		summary.Passes++
		if err != nil {
			logger.Warn("sweep pass failed", "error", err)
			summary.Errors++
		} else {
			summary.Checked += out.Report.Checked
			summary.Completed += out.Report.Completed
			summary.Failed += out.Report.Failed
			summary.Errors += len(out.Report.Errors)
		}

		if summary.Passes < in.PassesPerRun {
			if err := workflow.Sleep(ctx, in.Interval); err != nil {
				return summary, err
			}
		}
	}

	if in.Forever {
		if err := workflow.Sleep(ctx, in.Interval); err != nil {
			return summary, err
		}
		return summary, workflow.NewContinueAsNewError(ctx, SweepWorkflow, in)
	}
	return summary, nil
}

// FinalizeWorkflow finalizes a single evaluation durably. Operators start
// it when an evaluation needs attention outside the regular sweep.
func FinalizeWorkflow(ctx workflow.Context, evaluationID string) (*activity.FinalizeOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})
	var acts *activity.Activities
	var out activity.FinalizeOutput
	err := workflow.ExecuteActivity(ctx, acts.FinalizeEvaluation,
		activity.FinalizeInput{EvaluationID: evaluationID}).Get(ctx, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
