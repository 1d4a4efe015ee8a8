package events

import (
	"context"
	"errors"
	"log/slog"
)

// Publisher emits typed events from one source, logging instead of failing
// when the sink rejects them.
type Publisher struct {
	sink   EventSink
	source string
	logger *slog.Logger
}

// NewPublisher returns a publisher writing to sink. A nil sink drops events.
func NewPublisher(sink EventSink, source string) *Publisher {
	if sink == nil {
		sink = NoOpEventSink{}
	}
	return &Publisher{
		sink:   sink,
		source: source,
		logger: slog.Default().With("component", "events", "source", source),
	}
}

// Emit builds and appends one event.
func (p *Publisher) Emit(ctx context.Context, eventType, evaluationID, discriminator string, payload any) {
	if p == nil {
		return
	}
	env, err := NewEnvelope(eventType, p.source, evaluationID, discriminator, payload)
	if err != nil {
		p.logger.Error("failed to build event", "event_type", eventType, "evaluation_id", evaluationID, "error", err)
		return
	}
	if err := p.sink.Append(ctx, env); err != nil {
		p.logger.Warn("failed to emit event", "event_type", eventType, "evaluation_id", evaluationID, "error", err)
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
