// Package finalizer decides when an evaluation is done and freezes its
// scores. It is safe to call concurrently from the orchestrator, callback
// handlers and the periodic sweep: the store's conditional update lets
// exactly one caller write the final state.
package finalizer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/scoring"
	"github.com/ahrav/go-discover/pkg/events"
)

// DefaultDeadline bounds how long an evaluation waits for its agents.
const DefaultDeadline = 30 * time.Minute

// Outcome is the result of one finalization check.
type Outcome string

const (
	// OutcomeAlreadyFinal means the evaluation was terminal before the call.
	OutcomeAlreadyFinal Outcome = "already_final"
	// OutcomePending means agents are outstanding and the deadline has not passed.
	OutcomePending Outcome = "pending"
	// OutcomeCompleted means this call wrote the final scores.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means this call marked the evaluation failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeLostRace means another caller finalized first.
	OutcomeLostRace Outcome = "lost_race"
)

// Store is what the finalizer reads and writes.
type Store interface {
	GetEvaluation(ctx context.Context, id string) (*domain.Evaluation, error)
	ListExecutions(ctx context.Context, evaluationID string) ([]domain.AgentExecution, error)
	ListDimensionScores(ctx context.Context, evaluationID string) ([]domain.DimensionScore, error)
	Finalize(ctx context.Context, id string, f domain.Finalization) (bool, error)
	ListNonTerminal(ctx context.Context) ([]*domain.Evaluation, error)
}

// Finalizer checks and finalizes evaluations.
type Finalizer struct {
	store    Store
	registry *agents.Registry
	scorer   scoring.Scorer
	deadline time.Duration
	events   *events.Publisher
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Finalizer.
type Option func(*Finalizer)

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option {
	return func(f *Finalizer) {
		if d > 0 {
			f.deadline = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(f *Finalizer) { f.now = now } }

// WithEvents publishes evaluation.finalized through p.
func WithEvents(p *events.Publisher) Option { return func(f *Finalizer) { f.events = p } }

// New builds a finalizer.
func New(store Store, registry *agents.Registry, scorer scoring.Scorer, opts ...Option) *Finalizer {
	f := &Finalizer{
		store:    store,
		registry: registry,
		scorer:   scorer,
		deadline: DefaultDeadline,
		now:      time.Now,
		logger:   slog.Default().With("component", "finalizer"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Deadline returns the configured wait bound.
func (f *Finalizer) Deadline() time.Duration { return f.deadline }

// CheckAndFinalizeEvaluation finalizes the evaluation when every expected
// agent is terminal, or when the deadline has passed. Failures are returned
// as *domain.FinalizationError and leave the evaluation for the next sweep.
func (f *Finalizer) CheckAndFinalizeEvaluation(ctx context.Context, evaluationID string) (Outcome, error) {
	e, err := f.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return "", &domain.FinalizationError{EvaluationID: evaluationID, Stage: "load", Cause: err}
	}
	if e.Status.IsTerminal() {
		return OutcomeAlreadyFinal, nil
	}

	expected, err := f.registry.ExpectedAgents(e.Tier)
	if err != nil {
		return "", &domain.FinalizationError{EvaluationID: evaluationID, Stage: "tier", Cause: err}
	}
	execs, err := f.store.ListExecutions(ctx, evaluationID)
	if err != nil {
		return "", &domain.FinalizationError{EvaluationID: evaluationID, Stage: "executions", Cause: err}
	}

	missing := outstanding(expected, execs)
	now := f.now().UTC()
	expired := now.Sub(e.CreatedAt) >= f.deadline
	if len(missing) > 0 && !expired {
		return OutcomePending, nil
	}

	dims, err := f.store.ListDimensionScores(ctx, evaluationID)
	if err != nil {
		return "", &domain.FinalizationError{EvaluationID: evaluationID, Stage: "dimensions", Cause: err}
	}

	fin := domain.Finalization{
		ReducedReliability: len(missing) > 0,
		MissingAgents:      missing,
		CompletedAt:        now,
	}
	summary, err := f.scorer.Summarize(dims)
	switch {
	case errors.Is(err, domain.ErrNoDimensionScores):
		if !expired {
			return OutcomePending, nil
		}
		fin.Status = domain.EvaluationFailed
		fin.Error = "no dimension scores were produced before the deadline"
	case err != nil:
		return "", &domain.FinalizationError{EvaluationID: evaluationID, Stage: "score", Cause: err}
	default:
		overall := summary.OverallScore
		fin.Status = domain.EvaluationCompleted
		fin.OverallScore = &overall
		fin.Grade = summary.Grade
		fin.PillarScores = summary.PillarScores
		fin.Strongest = summary.Extremes.Strongest
		fin.Weakest = summary.Extremes.Weakest
		fin.BiggestOpportunity = summary.Extremes.BiggestOpportunity
	}

	won, err := f.store.Finalize(ctx, evaluationID, fin)
	if err != nil {
		return "", &domain.FinalizationError{EvaluationID: evaluationID, Stage: "persist", Cause: err}
	}
	if !won {
		return OutcomeLostRace, nil
	}

	logger := f.logger.With("evaluation_id", evaluationID, "status", fin.Status)
	if fin.ReducedReliability {
		logger.Warn("evaluation finalized at deadline", "missing_agents", missing)
	}
	logger.Info("evaluation finalized", "overall_score", fin.OverallScore, "grade", fin.Grade, "dimensions", len(dims))
	f.events.Emit(ctx, events.TypeEvaluationFinalized, evaluationID, string(fin.Status), finalizedPayload(fin))

	if fin.Status == domain.EvaluationFailed {
		return OutcomeFailed, nil
	}
	return OutcomeCompleted, nil
}

// outstanding lists expected agents without a terminal row, in tier order.
func outstanding(expected []string, execs []domain.AgentExecution) []string {
	done := make(map[string]bool, len(execs))
	for _, x := range execs {
		if x.Status.IsTerminal() {
			done[x.AgentName] = true
		}
	}
	var missing []string
	for _, a := range expected {
		if !done[a] {
			missing = append(missing, a)
		}
	}
	return missing
}

func finalizedPayload(fin domain.Finalization) events.EvaluationFinalized {
	pillars := make(map[string]float64, len(fin.PillarScores))
	for p, v := range fin.PillarScores {
		pillars[string(p)] = v
	}
	return events.EvaluationFinalized{
		Status:             string(fin.Status),
		OverallScore:       fin.OverallScore,
		Grade:              string(fin.Grade),
		PillarScores:       pillars,
		ReducedReliability: fin.ReducedReliability,
		MissingAgents:      fin.MissingAgents,
		CompletedAt:        fin.CompletedAt,
	}
}
