// Package events carries evaluation lifecycle events to downstream
// consumers. Emission is best-effort: a failing sink never fails the
// operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0.0"

// Event types.
const (
	TypeEvaluationStarted   = "evaluation.started"
	TypeAgentUpdated        = "agent.updated"
	TypeEvaluationFinalized = "evaluation.finalized"
	TypeSweepCompleted      = "sweep.completed"
)

// eventNamespace seeds deterministic idempotency keys.
var eventNamespace = uuid.MustParse("6f1c1b8e-2f43-4c1a-9c55-8f0f3c0d7a11")

// Envelope wraps an event payload with routing and dedup metadata.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived from type, evaluation and discriminator, so
	// re-emitting the same fact yields the same key.
	IdempotencyKey string `json:"idempotency_key"`

	EvaluationID string          `json:"evaluation_id"`
	Payload      json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope for payload. The discriminator separates
// distinct facts of the same type about one evaluation, such as the agent
// name and status of an agent update.
func NewEnvelope(eventType, source, evaluationID, discriminator string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	key := uuid.NewSHA1(eventNamespace, []byte(eventType+"|"+evaluationID+"|"+discriminator))
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        SchemaVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: key.String(),
		EvaluationID:   evaluationID,
		Payload:        raw,
	}, nil
}

// EventSink delivers envelopes. Implementations should treat a repeated
// idempotency key as a no-op where the transport allows it.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink drops every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (NoOpEventSink) Append(context.Context, Envelope) error { return nil }

// NewNoOpEventSink returns a sink that drops every event.
func NewNoOpEventSink() EventSink { return NoOpEventSink{} }

// FanoutSink appends to every sink and joins their errors.
type FanoutSink []EventSink

// Append implements EventSink.
func (f FanoutSink) Append(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}
