package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
)

// dispatch runs the plan/claim/execute loop until no expected agent can make
// progress from this caller, then asks the finalizer to check the
// evaluation. Every pass either claims or skips at least one agent, so the
// loop ends after at most len(expected) passes.
func (o *Orchestrator) dispatch(ctx context.Context, e *domain.Evaluation, expected []string) error {
	logger := o.logger.With("evaluation_id", e.ID)
	defer o.finalize(ctx, e.ID)

	for range len(expected) + 1 {
		execs, err := o.store.ListExecutions(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("load executions: %w", err)
		}
		plan := BuildPlan(o.registry, expected, execs)
		if plan.Empty() {
			return nil
		}

		progressed := false
		for _, s := range plan.Skipped {
			applied, err := o.record(ctx, domain.AgentUpdate{
				EvaluationID: e.ID,
				AgentName:    s.Agent,
				Status:       domain.ExecutionSkipped,
				Error:        s.Reason,
			})
			if err != nil {
				return err
			}
			progressed = progressed || applied
		}

		var local, remote []Dispatch
		for _, d := range plan.Ready {
			if d.Mode == agents.ModeLocal {
				local = append(local, d)
			} else {
				remote = append(remote, d)
			}
		}

		claimedLocal, err := o.claim(ctx, e.ID, local, domain.ExecutionRunning)
		if err != nil {
			return err
		}
		claimedRemote, err := o.claim(ctx, e.ID, remote, domain.ExecutionPending)
		if err != nil {
			return err
		}
		if len(claimedLocal)+len(claimedRemote) > 0 {
			progressed = true
		}

		if len(claimedRemote) > 0 {
			o.enqueueRemote(ctx, e, claimedRemote)
		}
		if len(claimedLocal) > 0 {
			o.runLocal(ctx, e, claimedLocal, execs)
		}

		if !progressed {
			logger.Debug("dispatch owned elsewhere", "ready", len(plan.Ready), "blocked", plan.Blocked)
			return nil
		}
	}
	return nil
}

// claim upserts a non-terminal row for each dispatch and returns the ones
// this caller won.
func (o *Orchestrator) claim(ctx context.Context, evaluationID string, ds []Dispatch, status domain.ExecutionStatus) ([]Dispatch, error) {
	var won []Dispatch
	for _, d := range ds {
		ok, err := o.store.Apply(ctx, domain.AgentUpdate{
			EvaluationID: evaluationID,
			AgentName:    d.Agent,
			Status:       status,
			Degraded:     d.Degraded,
			At:           o.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", d.Agent, err)
		}
		if ok {
			won = append(won, d)
		}
	}
	return won, nil
}

// runLocal executes claimed local agents concurrently on the shared pool
// and records each outcome. A failing or panicking agent never affects its
// siblings.
func (o *Orchestrator) runLocal(ctx context.Context, e *domain.Evaluation, ds []Dispatch, execs []domain.AgentExecution) {
	prior := priorResults(execs)

	var wg sync.WaitGroup
	for _, d := range ds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.localSem <- struct{}{}
			defer func() { <-o.localSem }()

			u := o.execLocal(ctx, e, d, prior)
			if _, err := o.record(ctx, u); err != nil {
				o.logger.Error("failed to record local agent", "evaluation_id", e.ID, "agent", d.Agent, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) execLocal(ctx context.Context, e *domain.Evaluation, d Dispatch, prior map[string]agents.Result) (u domain.AgentUpdate) {
	start := time.Now()
	u = domain.AgentUpdate{EvaluationID: e.ID, AgentName: d.Agent, Degraded: d.Degraded}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("local agent panicked", "evaluation_id", e.ID, "agent", d.Agent, "panic", r)
			u.Status = domain.ExecutionFailed
			u.Error = fmt.Sprintf("panic: %v", r)
			u.Result = nil
		}
		u.ExecutionTime = time.Since(start)
		u.At = o.now().UTC()
	}()

	agent, ok := o.local[d.Agent]
	if !ok {
		u.Status = domain.ExecutionFailed
		u.Error = "no local implementation for " + d.Agent
		return u
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.LocalTimeout)
	defer cancel()
	res, err := agent.Run(actx, agents.Input{
		EvaluationID: e.ID,
		Brand:        e.Brand(),
		Prior:        prior,
		Degraded:     d.Degraded,
	})
	if err != nil {
		u.Status = domain.ExecutionFailed
		u.Error = err.Error()
		return u
	}
	raw, err := json.Marshal(res)
	if err != nil {
		u.Status = domain.ExecutionFailed
		u.Error = "encode result: " + err.Error()
		return u
	}
	u.Status = domain.ExecutionCompleted
	u.Result = raw
	return u
}

// enqueueRemote hands every claimed remote agent to the fleet in one call.
// A failed enqueue fails each of them; there is no automatic retry.
func (o *Orchestrator) enqueueRemote(ctx context.Context, e *domain.Evaluation, ds []Dispatch) {
	names := make([]string, 0, len(ds))
	var degraded []string
	for _, d := range ds {
		names = append(names, d.Agent)
		if d.Degraded {
			degraded = append(degraded, d.Agent)
		}
	}
	logger := o.logger.With("evaluation_id", e.ID, "agents", names)

	job, err := o.enqueue(ctx, e, names, degraded)
	if err != nil {
		logger.Error("enqueue failed", "error", err)
		for _, name := range names {
			if _, rerr := o.record(ctx, domain.AgentUpdate{
				EvaluationID: e.ID,
				AgentName:    name,
				Status:       domain.ExecutionFailed,
				Error:        "enqueue failed: " + err.Error(),
			}); rerr != nil {
				logger.Error("failed to record enqueue failure", "agent", name, "error", rerr)
			}
		}
		return
	}

	for _, name := range names {
		if err := o.store.SetJobID(ctx, e.ID, name, job.JobID); err != nil {
			logger.Warn("failed to store job id", "agent", name, "error", err)
		}
	}
	logger.Info("remote agents enqueued", "job_id", job.JobID, "queue_position", job.QueuePosition)
}

func (o *Orchestrator) enqueue(ctx context.Context, e *domain.Evaluation, names, degraded []string) (*domain.BridgeJob, error) {
	if o.bridge == nil || o.signer == nil {
		return nil, &domain.BridgeError{Message: "remote fleet is not configured"}
	}
	token, err := o.signer.Sign(e.ID)
	if err != nil {
		return nil, fmt.Errorf("sign callback token: %w", err)
	}
	return o.bridge.Enqueue(ctx, domain.EnqueueRequest{
		EvaluationID:  e.ID,
		WebsiteURL:    e.WebsiteURL,
		BrandName:     e.BrandName,
		Tier:          e.Tier,
		Agents:        names,
		Degraded:      degraded,
		Priority:      priority(e.Tier),
		Metadata:      map[string]string{"brandId": e.BrandID},
		CallbackURL:   strings.TrimSuffix(o.cfg.CallbackURL, "/") + "/" + e.ID,
		CallbackToken: token,
	})
}

func priority(t domain.Tier) int {
	switch t {
	case domain.TierEnterprise:
		return 2
	case domain.TierIndexPro:
		return 1
	default:
		return 0
	}
}

// priorResults decodes the results of completed executions so local agents
// can build on their prerequisites.
func priorResults(execs []domain.AgentExecution) map[string]agents.Result {
	out := make(map[string]agents.Result)
	for _, x := range execs {
		if x.Status != domain.ExecutionCompleted || len(x.Result) == 0 {
			continue
		}
		if r, err := agents.DecodeResult(x.AgentName, x.Result); err == nil {
			out[x.AgentName] = r
		}
	}
	return out
}
