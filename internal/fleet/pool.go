package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-discover/internal/bridge"
	"github.com/ahrav/go-discover/internal/domain"
)

// Pool defaults.
const (
	DefaultWorkers    = 4
	DefaultPollWait   = 2 * time.Second
	DefaultJobTimeout = 10 * time.Minute
)

// PoolConfig tunes a Pool.
type PoolConfig struct {
	Workers    int
	PollWait   time.Duration
	JobTimeout time.Duration
}

// Callbacks reports job progress to the orchestrator.
type Callbacks interface {
	Progress(ctx context.Context, base, token string, req bridge.ProgressRequest) error
	Complete(ctx context.Context, base, token string, req bridge.CompleteRequest) error
}

// Pool pulls jobs off a Queue and runs their agents.
type Pool struct {
	queue     Queue
	runner    Runner
	callbacks Callbacks
	cfg       PoolConfig
	busy      atomic.Int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewPool builds a pool; zero config fields take the package defaults.
func NewPool(q Queue, r Runner, cb Callbacks, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultPollWait
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &Pool{
		queue:     q,
		runner:    r,
		callbacks: cb,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default().With("component", "fleet_pool"),
	}
}

// Workers is the configured pool size.
func (p *Pool) Workers() int { return p.cfg.Workers }

// Busy is the number of workers currently running a job.
func (p *Pool) Busy() int64 { return p.busy.Load() }

// Run starts the workers and blocks until ctx is done. Jobs in flight are
// finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("fleet pool started", "workers", p.cfg.Workers)
	var wg sync.WaitGroup
	for i := range p.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, i)
		}()
	}
	wg.Wait()
	p.logger.Info("fleet pool stopped")
	return nil
}

func (p *Pool) work(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := p.queue.Pop(ctx, p.cfg.PollWait)
		switch {
		case errors.Is(err, ErrQueueEmpty):
			continue
		case ctx.Err() != nil:
			return
		case err != nil:
			logger.Error("failed to pop job", "error", err)
			if sleepCtx(ctx, p.cfg.PollWait) != nil {
				return
			}
			continue
		}
		p.busy.Add(1)
		p.Process(context.WithoutCancel(ctx), job)
		p.busy.Add(-1)
	}
}

// Process runs every agent of job in order, posting a running update before
// each, then delivers all results in one completion callback. An agent
// failure is reported as that agent's result; the job itself fails only
// when the callback cannot be delivered.
func (p *Pool) Process(ctx context.Context, job *Job) {
	req := job.Request
	logger := p.logger.With("job_id", job.ID, "evaluation_id", req.EvaluationID)
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	started := p.now().UTC()
	job.Status = JobRunning
	job.StartedAt = &started
	p.save(ctx, job, logger)

	results := make([]bridge.AgentResult, 0, len(req.Agents))
	for _, agent := range req.Agents {
		if err := p.callbacks.Progress(ctx, req.CallbackURL, req.CallbackToken, bridge.ProgressRequest{
			JobID:     job.ID,
			AgentName: agent,
			Status:    domain.ExecutionRunning,
		}); err != nil {
			logger.Warn("progress callback failed", "agent", agent, "error", err)
		}
		results = append(results, p.runAgent(ctx, agent, req, logger))
	}

	summary := bridge.Summarize(results, p.now().UTC().Sub(started))
	status := bridge.JobStatusCompleted
	if summary.Total > 0 && summary.Completed == 0 {
		status = bridge.JobStatusFailed
	}
	err := p.callbacks.Complete(ctx, req.CallbackURL, req.CallbackToken, bridge.CompleteRequest{
		JobID:   job.ID,
		Status:  status,
		Results: results,
		Summary: &summary,
	})
	finished := p.now().UTC()
	job.FinishedAt = &finished
	if err != nil {
		logger.Error("completion callback failed", "error", err)
		job.Status = JobFailed
		job.Error = err.Error()
	} else {
		job.Status = JobCompleted
		logger.Info("job completed", "agents", len(results), "duration", finished.Sub(started))
	}
	p.save(context.WithoutCancel(ctx), job, logger)
}

func (p *Pool) runAgent(ctx context.Context, agent string, req domain.EnqueueRequest, logger *slog.Logger) (res bridge.AgentResult) {
	start := time.Now()
	res = bridge.AgentResult{AgentName: agent, Degraded: slices.Contains(req.Degraded, agent)}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent panicked", "agent", agent, "panic", r)
			res.Status = domain.ExecutionFailed
			res.Error = fmt.Sprintf("panic: %v", r)
			res.Result = nil
		}
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
	}()

	out, err := p.runner.Run(ctx, agent, req)
	if err != nil {
		logger.Warn("agent failed", "agent", agent, "error", err)
		res.Status = domain.ExecutionFailed
		res.Error = err.Error()
		return res
	}
	raw, err := json.Marshal(out)
	if err != nil {
		res.Status = domain.ExecutionFailed
		res.Error = "encode result: " + err.Error()
		return res
	}
	res.Status = domain.ExecutionCompleted
	res.Result = raw
	return res
}

func (p *Pool) save(ctx context.Context, job *Job, logger *slog.Logger) {
	if err := p.queue.Save(ctx, job); err != nil {
		logger.Warn("failed to save job state", "status", job.Status, "error", err)
	}
}
