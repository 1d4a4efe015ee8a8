package fleet

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-discover/internal/domain"
)

// Queue holds jobs waiting for a worker and the state of every job.
type Queue interface {
	// Push stores job and returns its 1-based queue position.
	Push(ctx context.Context, job *Job) (int, error)
	// Pop removes the next job, waiting up to wait. It returns
	// ErrQueueEmpty when nothing arrives.
	Pop(ctx context.Context, wait time.Duration) (*Job, error)
	// Save overwrites the stored state of job.
	Save(ctx context.Context, job *Job) error
	// Get returns a job by id or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Depth is the number of jobs waiting.
	Depth(ctx context.Context) (int64, error)
	// Ping checks the backing store.
	Ping(ctx context.Context) error
}

// MemoryQueue is an in-process Queue for single-binary deployments and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]Job
	pending []queued
	seq     uint64
	// signal is closed and replaced on every push to wake poppers.
	signal chan struct{}
}

type queued struct {
	id    string
	score float64
	seq   uint64
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]Job), signal: make(chan struct{})}
}

func (q *MemoryQueue) Push(_ context.Context, job *Job) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.jobs[job.ID] = *job
	item := queued{id: job.ID, score: priorityScore(job.Request.Priority, job.EnqueuedAt), seq: q.seq}
	i, _ := slices.BinarySearchFunc(q.pending, item, compareQueued)
	q.pending = slices.Insert(q.pending, i, item)

	close(q.signal)
	q.signal = make(chan struct{})
	return i + 1, nil
}

func compareQueued(a, b queued) int {
	switch {
	case a.score < b.score:
		return -1
	case a.score > b.score:
		return 1
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

func (q *MemoryQueue) Pop(ctx context.Context, wait time.Duration) (*Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			next := q.pending[0]
			q.pending = q.pending[1:]
			job := q.jobs[next.id]
			q.mu.Unlock()
			return &job, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrQueueEmpty
		case <-signal:
		}
	}
}

func (q *MemoryQueue) Save(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = *job
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return &job, nil
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *MemoryQueue) Ping(context.Context) error { return nil }
