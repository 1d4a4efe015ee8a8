package domain

import "time"

// BridgeJob is the handle returned by the remote fleet for an enqueued batch.
// Its lifecycle lives entirely in the fleet; callers only hold the handle.
type BridgeJob struct {
	JobID              string    `json:"jobId"`
	Status             string    `json:"status,omitempty"`
	QueuePosition      int       `json:"queuePosition"`
	EstimatedStartTime time.Time `json:"estimatedStartTime"`
}

// QueueStatus is the aggregate health of the remote fleet.
type QueueStatus struct {
	Depth   int64 `json:"depth"`
	Workers int   `json:"workers"`
	Healthy bool  `json:"healthy"`
}

// EnqueueRequest asks the remote fleet to run a batch of agents for one
// evaluation and report back through CallbackURL.
type EnqueueRequest struct {
	EvaluationID string            `json:"evaluationId" validate:"required"`
	WebsiteURL   string            `json:"websiteUrl"   validate:"required,http_url"`
	BrandName    string            `json:"brandName,omitempty"`
	Tier         Tier              `json:"tier"         validate:"required,oneof=free index-pro enterprise"`
	Agents       []string          `json:"agents"       validate:"required,min=1,dive,required"`
	Degraded     []string          `json:"degraded,omitempty"`
	Priority     int               `json:"priority,omitempty" validate:"min=0,max=10"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CallbackURL  string            `json:"callbackUrl"  validate:"required,http_url"`
	// CallbackToken authenticates the fleet's callbacks for this evaluation.
	CallbackToken string `json:"callbackToken" validate:"required"`
}

// Validate checks the request before it is sent or accepted.
func (r EnqueueRequest) Validate() error { return ValidateStruct(r) }
