package events

import "time"

// EvaluationStarted is emitted once dispatch has begun.
type EvaluationStarted struct {
	BrandID    string   `json:"brand_id"`
	WebsiteURL string   `json:"website_url"`
	Tier       string   `json:"tier"`
	Agents     []string `json:"agents"`
}

// AgentUpdated is emitted whenever an execution row changes status.
type AgentUpdated struct {
	Agent    string `json:"agent"`
	Status   string `json:"status"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EvaluationFinalized is emitted by the finalizer's winning writer.
type EvaluationFinalized struct {
	Status             string             `json:"status"`
	OverallScore       *float64           `json:"overall_score,omitempty"`
	Grade              string             `json:"grade,omitempty"`
	PillarScores       map[string]float64 `json:"pillar_scores,omitempty"`
	ReducedReliability bool               `json:"reduced_reliability"`
	MissingAgents      []string           `json:"missing_agents,omitempty"`
	CompletedAt        time.Time          `json:"completed_at"`
}

// SweepCompleted is emitted by a durable sweep pass that finalized at
// least one evaluation.
type SweepCompleted struct {
	WorkflowID string `json:"workflow_id"`
	Checked    int    `json:"checked"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Pending    int    `json:"pending"`
	Errors     int    `json:"errors"`
}
