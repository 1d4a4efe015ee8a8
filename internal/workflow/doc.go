// Package workflow implements the Temporal workflows that keep evaluations
// moving to a terminal state.
//
// SweepWorkflow runs the finalization sweep on a fixed interval and
// continues as new to bound its history. FinalizeWorkflow finalizes one
// evaluation on demand.
//
// Workflow code must stay deterministic: no wall-clock reads, random
// numbers or I/O. Store access happens in the activities package.
package workflow
