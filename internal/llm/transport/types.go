// Package transport defines the provider-agnostic request/response model and
// the composable handler pipeline every LLM call flows through.
package transport

import (
	"net/http"
	"time"
)

// OperationType differentiates the kinds of calls made to providers.
// Affects rate limiting keys, cache key namespacing and log labels.
type OperationType string

const (
	// OpProbe asks a model a structured question about a brand.
	OpProbe OperationType = "probe"

	// OpGeneration is free-form text generation.
	OpGeneration OperationType = "generation"
)

// FinishReason reports why the provider stopped producing tokens.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolUse       FinishReason = "tool_use"
)

// Request represents a normalized request across all LLM providers.
type Request struct {
	Operation OperationType `json:"operation"`

	// Provider identifies which LLM service to use.
	Provider string `json:"provider"` // "openai"|"anthropic"|"google"
	Model    string `json:"model"`

	// TenantID scopes cache and rate limit keys.
	TenantID string `json:"tenant_id"`

	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Seed        *int64  `json:"seed,omitempty"`

	// JSONMode asks providers that support it for a JSON object response.
	JSONMode bool `json:"json_mode,omitempty"`

	Timeout        time.Duration     `json:"timeout"`
	IdempotencyKey string            `json:"idempotency_key"`
	TraceID        string            `json:"trace_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Response represents normalized output from any LLM provider.
type Response struct {
	Content            string          `json:"content"`
	FinishReason       FinishReason    `json:"finish_reason"`
	ProviderRequestIDs []string        `json:"provider_request_ids"`
	Usage              NormalizedUsage `json:"usage"`

	// Cached is set when the response was served from the response cache.
	Cached bool `json:"cached,omitempty"`

	Headers http.Header `json:"-"`
	RawBody []byte      `json:"raw_body,omitempty"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
