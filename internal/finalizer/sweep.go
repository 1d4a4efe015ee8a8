package finalizer

import (
	"context"
	"fmt"
	"time"
)

// DefaultSweepInterval is how often the in-process sweeper runs.
const DefaultSweepInterval = time.Minute

// SweepReport summarizes one pass over non-terminal evaluations.
type SweepReport struct {
	Checked   int      `json:"checked"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Pending   int      `json:"pending"`
	Errors    []string `json:"errors,omitempty"`
}

// Sweep checks every non-terminal evaluation once. Individual failures are
// collected on the report; only failing to list evaluations is an error.
func (f *Finalizer) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	open, err := f.store.ListNonTerminal(ctx)
	if err != nil {
		return report, fmt.Errorf("list non-terminal evaluations: %w", err)
	}

	for _, e := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		outcome, err := f.CheckAndFinalizeEvaluation(ctx, e.ID)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		switch outcome {
		case OutcomeCompleted:
			report.Completed++
		case OutcomeFailed:
			report.Failed++
		case OutcomePending:
			report.Pending++
		}
	}
	if report.Completed+report.Failed+len(report.Errors) > 0 {
		f.logger.Info("sweep finished",
			"checked", report.Checked,
			"completed", report.Completed,
			"failed", report.Failed,
			"pending", report.Pending,
			"errors", len(report.Errors))
	}
	return report, nil
}

// Sweeper runs Sweep on a ticker until its context ends.
type Sweeper struct {
	finalizer *Finalizer
}

// NewSweeper returns a sweeper over f.
func NewSweeper(f *Finalizer) *Sweeper { return &Sweeper{finalizer: f} }

// Run blocks, sweeping every interval, and returns ctx.Err() on shutdown.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.finalizer.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.finalizer.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
