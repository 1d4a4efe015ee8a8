// Package orchestrator creates evaluations, dispatches their agents to the
// local pool or the remote fleet in prerequisite order, and is the single
// write path for agent state changes.
//
// The orchestrator keeps no in-memory job registry: every decision is
// derived from the tracker rows, and the status-rank guard on those rows
// makes concurrent dispatch loops (the original request and any number of
// callbacks) safe without locks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/finalizer"
	"github.com/ahrav/go-discover/internal/scoreadapter"
	"github.com/ahrav/go-discover/pkg/events"
)

// Defaults for the local pool.
const (
	DefaultLocalConcurrency = 4
	DefaultLocalTimeout     = 2 * time.Minute
)

// Store is the subset of the tracker the orchestrator writes through.
type Store interface {
	CreateEvaluation(ctx context.Context, e *domain.Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*domain.Evaluation, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Apply(ctx context.Context, u domain.AgentUpdate) (bool, error)
	SetJobID(ctx context.Context, evaluationID, agent, jobID string) error
	Reset(ctx context.Context, evaluationID, agent string) (bool, error)
	GetExecution(ctx context.Context, evaluationID, agent string) (*domain.AgentExecution, error)
	ListExecutions(ctx context.Context, evaluationID string) ([]domain.AgentExecution, error)
	InsertDimensionScores(ctx context.Context, scores []domain.DimensionScore) (int, error)
}

// Bridge enqueues remote agents on the fleet.
type Bridge interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.BridgeJob, error)
}

// TokenSigner issues the callback token handed to the fleet.
type TokenSigner interface {
	Sign(evaluationID string) (string, error)
}

// Finalizer is triggered after every terminal agent transition.
type Finalizer interface {
	CheckAndFinalizeEvaluation(ctx context.Context, evaluationID string) (finalizer.Outcome, error)
}

// Config tunes the orchestrator.
type Config struct {
	// CallbackURL is the base the fleet posts progress and completion to;
	// the evaluation id and action are appended.
	CallbackURL      string
	LocalConcurrency int
	LocalTimeout     time.Duration
}

// Orchestrator coordinates agent execution for evaluations.
type Orchestrator struct {
	store     Store
	registry  *agents.Registry
	local     map[string]agents.LocalAgent
	bridge    Bridge
	signer    TokenSigner
	finalizer Finalizer
	events    *events.Publisher

	cfg      Config
	localSem chan struct{}
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEvents publishes lifecycle events through p.
func WithEvents(p *events.Publisher) Option { return func(o *Orchestrator) { o.events = p } }

// WithFinalizer sets the finalizer invoked after terminal transitions.
func WithFinalizer(f Finalizer) Option { return func(o *Orchestrator) { o.finalizer = f } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithIDGenerator overrides evaluation id generation.
func WithIDGenerator(f func() string) Option { return func(o *Orchestrator) { o.newID = f } }

// New builds an orchestrator. bridge and signer may be nil when no remote
// fleet is configured; remote agents then fail at dispatch.
func New(
	store Store,
	registry *agents.Registry,
	local map[string]agents.LocalAgent,
	bridge Bridge,
	signer TokenSigner,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	if cfg.LocalConcurrency <= 0 {
		cfg.LocalConcurrency = DefaultLocalConcurrency
	}
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = DefaultLocalTimeout
	}
	o := &Orchestrator{
		store:    store,
		registry: registry,
		local:    local,
		bridge:   bridge,
		signer:   signer,
		cfg:      cfg,
		localSem: make(chan struct{}, cfg.LocalConcurrency),
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunEvaluation creates an evaluation for brand under tier, dispatches
// every agent whose prerequisites allow it, and returns once local agents
// have finished and remote agents have been handed to the fleet.
func (o *Orchestrator) RunEvaluation(ctx context.Context, brand domain.Brand, tier domain.Tier) (*domain.Evaluation, error) {
	if err := brand.Validate(); err != nil {
		return nil, err
	}
	expected, err := o.registry.ExpectedAgents(tier)
	if err != nil {
		return nil, domain.NewValidationError("tier", err.Error())
	}

	e := domain.NewEvaluation(o.newID(), brand, tier, o.now().UTC())
	if err := o.store.CreateEvaluation(ctx, e); err != nil {
		return nil, fmt.Errorf("create evaluation: %w", err)
	}
	if _, err := o.store.MarkProcessing(ctx, e.ID); err != nil {
		return nil, fmt.Errorf("start evaluation: %w", err)
	}
	e.Status = domain.EvaluationProcessing

	logger := o.logger.With("evaluation_id", e.ID, "tier", tier)
	logger.Info("evaluation started", "brand_id", brand.ID, "agents", expected)
	o.events.Emit(ctx, events.TypeEvaluationStarted, e.ID, "", events.EvaluationStarted{
		BrandID:    brand.ID,
		WebsiteURL: brand.WebsiteURL,
		Tier:       string(tier),
		Agents:     expected,
	})

	// Dispatch outlives a disconnected caller so rows never stay claimed
	// without an owner.
	dctx := context.WithoutCancel(ctx)
	if err := o.dispatch(dctx, e, expected); err != nil {
		return nil, err
	}

	latest, err := o.store.GetEvaluation(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("reload evaluation: %w", err)
	}
	return latest, nil
}

// ApplyAgentUpdate records one agent state change. It returns whether the
// update was applied; replays and regressions are accepted but ignored.
// Newly terminal updates advance dependents and trigger finalization.
func (o *Orchestrator) ApplyAgentUpdate(ctx context.Context, u domain.AgentUpdate) (bool, error) {
	if err := u.Validate(); err != nil {
		return false, err
	}
	e, err := o.store.GetEvaluation(ctx, u.EvaluationID)
	if err != nil {
		return false, err
	}
	expected, err := o.registry.ExpectedAgents(e.Tier)
	if err != nil {
		return false, err
	}
	if !slices.Contains(expected, u.AgentName) {
		return false, domain.NewValidationError("agentName",
			fmt.Sprintf("%q is not part of the %s tier", u.AgentName, e.Tier))
	}
	if e.Status.IsTerminal() {
		o.logger.Info("ignoring update for finalized evaluation",
			"evaluation_id", e.ID, "agent", u.AgentName, "status", u.Status)
		return false, nil
	}

	dctx := context.WithoutCancel(ctx)
	applied, err := o.record(dctx, u)
	if err != nil || !applied || !u.Status.IsTerminal() {
		return applied, err
	}
	if err := o.dispatch(dctx, e, expected); err != nil {
		return true, err
	}
	return true, nil
}

// Redispatch clears a failed or skipped agent of a processing evaluation
// and runs the dispatch loop again.
func (o *Orchestrator) Redispatch(ctx context.Context, evaluationID, agent string) error {
	e, err := o.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return err
	}
	if e.Status.IsTerminal() {
		return fmt.Errorf("redispatch %s: %w", evaluationID, domain.ErrEvaluationTerminal)
	}
	expected, err := o.registry.ExpectedAgents(e.Tier)
	if err != nil {
		return err
	}
	if !slices.Contains(expected, agent) {
		return domain.NewValidationError("agent", fmt.Sprintf("%q is not part of the %s tier", agent, e.Tier))
	}
	reset, err := o.store.Reset(ctx, evaluationID, agent)
	if err != nil {
		return err
	}
	if !reset {
		return domain.NewValidationError("agent", "only failed or skipped agents can be redispatched")
	}
	o.logger.Info("agent redispatched", "evaluation_id", evaluationID, "agent", agent)
	return o.dispatch(context.WithoutCancel(ctx), e, expected)
}

// record applies u and, when it newly completes an agent, derives that
// agent's dimension scores.
func (o *Orchestrator) record(ctx context.Context, u domain.AgentUpdate) (bool, error) {
	if u.At.IsZero() {
		u.At = o.now().UTC()
	}
	applied, err := o.store.Apply(ctx, u)
	if err != nil {
		return false, err
	}
	logger := o.logger.With("evaluation_id", u.EvaluationID, "agent", u.AgentName, "status", u.Status)
	if !applied {
		logger.Debug("agent update ignored by rank guard")
		return false, nil
	}
	logger.Info("agent updated")
	o.events.Emit(ctx, events.TypeAgentUpdated, u.EvaluationID, u.AgentName+":"+string(u.Status), events.AgentUpdated{
		Agent:    u.AgentName,
		Status:   string(u.Status),
		Degraded: u.Degraded,
		Error:    u.Error,
	})

	if u.Status != domain.ExecutionCompleted {
		return true, nil
	}
	if err := o.deriveScores(ctx, u.EvaluationID, u.AgentName); err != nil {
		// The row stays completed; its dimensions are simply absent.
		logger.Error("failed to derive dimension scores", "error", err)
	}
	return true, nil
}

func (o *Orchestrator) deriveScores(ctx context.Context, evaluationID, agent string) error {
	exec, err := o.store.GetExecution(ctx, evaluationID, agent)
	if err != nil {
		return err
	}
	scores, err := scoreadapter.FromExecution(*exec)
	if err != nil {
		return err
	}
	n, err := o.store.InsertDimensionScores(ctx, scores)
	if err != nil {
		return err
	}
	o.logger.Debug("dimension scores derived", "evaluation_id", evaluationID, "agent", agent, "inserted", n)
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, evaluationID string) {
	if o.finalizer == nil {
		return
	}
	outcome, err := o.finalizer.CheckAndFinalizeEvaluation(ctx, evaluationID)
	if err != nil {
		var ferr *domain.FinalizationError
		if errors.As(err, &ferr) {
			o.logger.Error("finalization failed", "evaluation_id", evaluationID, "stage", ferr.Stage, "error", ferr.Cause)
			return
		}
		o.logger.Error("finalization failed", "evaluation_id", evaluationID, "error", err)
		return
	}
	o.logger.Debug("finalization checked", "evaluation_id", evaluationID, "outcome", outcome)
}
