// Package worker registers the sweep workflows and activities with a
// Temporal worker and runs it.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-discover/internal/activity"
	"github.com/ahrav/go-discover/internal/workflow"
	base "github.com/ahrav/go-discover/pkg/activity"
	"github.com/ahrav/go-discover/pkg/events"
)

// SweepWorkflowID is the fixed id of the long-running sweep, so starting
// it twice attaches to the running execution.
const SweepWorkflowID = "discover-finalization-sweep"

// Registrar is the subset of sdkworker.Worker used for registration.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

// RegisterAll registers every workflow and activity. Call it once before
// starting the worker.
func RegisterAll(w Registrar, fin activity.Finalizer, sink events.EventSink, source string) {
	acts := activity.NewActivities(base.NewBaseActivities(sink, source), fin)

	w.RegisterWorkflow(workflow.SweepWorkflow)
	w.RegisterWorkflow(workflow.FinalizeWorkflow)
	w.RegisterActivity(acts)
}

// Config selects the Temporal endpoint and task queue.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Run connects to Temporal, ensures the sweep workflow is running and
// serves the task queue until ctx ends.
func Run(ctx context.Context, cfg Config, in workflow.SweepWorkflowInput, fin activity.Finalizer, sink events.EventSink, source string) error {
	logger := slog.Default().With("component", "sweep_worker")

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal at %s: %w", cfg.HostPort, err)
	}
	defer c.Close()

	w := sdkworker.New(c, cfg.TaskQueue, sdkworker.Options{})
	RegisterAll(w, fin, sink, source)
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer w.Stop()

	in.Forever = true
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        SweepWorkflowID,
		TaskQueue: cfg.TaskQueue,
	}, workflow.SweepWorkflow, in)
	if err != nil {
		return fmt.Errorf("failed to start sweep workflow: %w", err)
	}
	logger.Info("sweep workflow running", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	<-ctx.Done()
	return nil
}
