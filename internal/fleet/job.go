// Package fleet is the reference remote worker fleet. It accepts enqueue
// requests over HTTP, holds jobs in a priority queue, and runs the probe
// agents of each job on a worker pool, reporting back through signed
// callbacks.
package fleet

import (
	"errors"
	"time"

	"github.com/ahrav/go-discover/internal/domain"
)

// JobStatus is the fleet-side lifecycle of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ErrQueueEmpty is returned by Pop when nothing arrived within the wait.
var ErrQueueEmpty = errors.New("queue empty")

// Job is one enqueued batch of agents for one evaluation.
type Job struct {
	ID         string                `json:"id"`
	Request    domain.EnqueueRequest `json:"request"`
	Status     JobStatus             `json:"status"`
	EnqueuedAt time.Time             `json:"enqueuedAt"`
	StartedAt  *time.Time            `json:"startedAt,omitempty"`
	FinishedAt *time.Time            `json:"finishedAt,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Handle converts the job into the handle returned to the orchestrator.
func (j *Job) Handle(position int, eta time.Time) *domain.BridgeJob {
	return &domain.BridgeJob{
		JobID:              j.ID,
		Status:             string(j.Status),
		QueuePosition:      position,
		EstimatedStartTime: eta,
	}
}

// priorityScore orders jobs by priority, then FIFO. Lower pops first.
func priorityScore(priority int, enqueuedAt time.Time) float64 {
	return float64(10-priority)*1e13 + float64(enqueuedAt.UnixMilli())
}
