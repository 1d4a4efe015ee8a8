package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the evaluation engine.
var (
	// ErrNotFound indicates the requested evaluation or execution does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTier indicates the tier is not one of the configured tiers.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrUnknownAgent indicates an agent name missing from the static registry.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrEvaluationTerminal indicates a mutation was attempted on a completed or failed evaluation.
	ErrEvaluationTerminal = errors.New("evaluation is terminal")

	// ErrNoDimensionScores indicates aggregation was attempted on an empty dimension set.
	ErrNoDimensionScores = errors.New("no dimension scores")
)

// ValidationError reports malformed enqueue, callback, or evaluation input.
// It maps to a 4xx response and is never retried.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// BridgeError reports a transport or availability failure of the remote
// worker fleet. It is an agent-level failure: the orchestrator records the
// affected agents as failed and the evaluation continues.
type BridgeError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Cause      error  `json:"-"`
}

func (e *BridgeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("bridge error (status %d): %s", e.StatusCode, e.Message)
	}
	return "bridge error: " + e.Message
}

func (e *BridgeError) Unwrap() error { return e.Cause }

// ProbeInvalidResponse reports LLM output that failed schema validation after
// every retry. The harness records it on the ProbeResult; the pipeline continues.
type ProbeInvalidResponse struct {
	Probe    string
	Attempts int
	Cause    error
}

func (e *ProbeInvalidResponse) Error() string {
	return fmt.Sprintf("probe %s: invalid response after %d attempts: %v", e.Probe, e.Attempts, e.Cause)
}

func (e *ProbeInvalidResponse) Unwrap() error { return e.Cause }

// FinalizationError reports an aggregation or persistence failure while
// finalizing. The evaluation stays non-terminal for the next sweep.
type FinalizationError struct {
	EvaluationID string
	Stage        string
	Cause        error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("finalize evaluation %s (%s): %v", e.EvaluationID, e.Stage, e.Cause)
}

func (e *FinalizationError) Unwrap() error { return e.Cause }
