package domain

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the state of one agent within one evaluation.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	// ExecutionSkipped marks an agent whose hard prerequisite did not complete.
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Rank orders statuses for the transition guard. An update is applied only
// when its rank is strictly greater than the stored rank, which makes
// identical replays no-ops, keeps terminal rows terminal, and lets a late
// completed supersede an earlier failed (never the reverse).
func (s ExecutionStatus) Rank() int {
	switch s {
	case ExecutionPending:
		return 0
	case ExecutionRunning:
		return 1
	case ExecutionFailed, ExecutionSkipped:
		return 2
	case ExecutionCompleted:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether the agent has finished one way or another.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionSkipped
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool { return s.Rank() >= 0 }

// AgentExecution is the durable record of one agent in one evaluation,
// keyed by (EvaluationID, AgentName).
type AgentExecution struct {
	EvaluationID  string          `json:"evaluationId"`
	AgentName     string          `json:"agentName"`
	Status        ExecutionStatus `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime time.Duration   `json:"executionTimeMs"`
	JobID         string          `json:"jobId,omitempty"`
	// Degraded is set when a soft prerequisite did not complete and the agent
	// ran on partial input.
	Degraded    bool       `json:"degraded"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// AgentUpdate is a single state change for an execution row, produced either
// by local execution or by a verified bridge callback.
type AgentUpdate struct {
	EvaluationID  string          `json:"evaluationId" validate:"required"`
	AgentName     string          `json:"agentName"    validate:"required"`
	Status        ExecutionStatus `json:"status"       validate:"required,oneof=pending running completed failed skipped"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime time.Duration   `json:"-"`
	JobID         string          `json:"-"`
	Degraded      bool            `json:"-"`
	At            time.Time       `json:"-"`
}

// Validate checks the update names a row and a known status.
func (u AgentUpdate) Validate() error { return ValidateStruct(u) }

// Applies reports whether u would change a row currently in status current.
func (u AgentUpdate) Applies(current ExecutionStatus) bool {
	return u.Status.Rank() > current.Rank()
}
