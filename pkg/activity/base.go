// Package activity provides the shared plumbing for Temporal activities:
// execution metadata, best-effort event emission and logging that is safe
// outside a real activity context.
package activity

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-discover/pkg/events"
)

// Emission retry parameters.
const (
	emitAttempts   = 2
	emitRetryDelay = 200 * time.Millisecond
)

// WorkflowContext identifies the execution an activity runs under.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
}

// BaseActivities is embedded by activity structs.
type BaseActivities struct {
	sink   events.EventSink
	source string
}

// NewBaseActivities returns base activities emitting to sink. A nil sink
// disables emission.
func NewBaseActivities(sink events.EventSink, source string) BaseActivities {
	return BaseActivities{sink: sink, source: source}
}

// Source is the event source stamped on emitted envelopes.
func (b *BaseActivities) Source() string { return b.source }

// GetWorkflowContext reads execution metadata. Outside an activity context,
// as in unit tests, it returns a fixed local identity.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) (wfCtx WorkflowContext) {
	defer func() {
		if recover() != nil {
			wfCtx = WorkflowContext{WorkflowID: "local", RunID: "local", ActivityID: "local", Attempt: 1}
		}
	}()
	info := activity.GetInfo(ctx)
	return WorkflowContext{
		WorkflowID: info.WorkflowExecution.ID,
		RunID:      info.WorkflowExecution.RunID,
		ActivityID: info.ActivityID,
		Attempt:    info.Attempt,
	}
}

// EmitEventSafe appends env, retrying once. Failures are logged and never
// returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, env events.Envelope, description string) {
	if b.sink == nil {
		return
	}

	var lastErr error
	for attempt := 0; attempt < emitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(emitRetryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, "event emission cancelled", "event", description, "event_type", env.Type)
				return
			}
		}
		if lastErr = b.sink.Append(ctx, env); lastErr == nil {
			SafeLog(ctx, "event emitted", "event", description, "idempotency_key", env.IdempotencyKey)
			return
		}
	}
	SafeLogError(ctx, fmt.Sprintf("failed to emit %s after %d attempts", description, emitAttempts),
		"event_type", env.Type,
		"error", lastErr)
}

// RecordHeartbeat heartbeats when running inside an activity.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info through the activity logger, if there is one.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError logs at error through the activity logger, if there is one.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat is a no-op outside an activity context.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}
