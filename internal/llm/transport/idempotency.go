package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CurrentCanonicalVersion defines the canonicalization format version.
// Increment when canonicalization logic changes to invalidate stale cache entries.
const CurrentCanonicalVersion = "v1"

// Validation errors for canonical payloads.
var (
	ErrProviderRequired = errors.New("provider is required")
	ErrModelRequired    = errors.New("model is required")
	ErrPromptRequired   = errors.New("prompt is required")
)

// CanonicalPayload is the normalized, stable form of a logical LLM request.
// It is the sole input to IdemKey hashing.
type CanonicalPayload struct {
	TenantID  string         `json:"tenant_id"`
	Operation OperationType  `json:"operation"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	System    string         `json:"system,omitempty"`
	Prompt    string         `json:"prompt"`
	Params    map[string]any `json:"params,omitempty"`
	Seed      *int64         `json:"seed,omitempty"`
	Version   string         `json:"version"`
}

// IdemKey is a deterministic SHA-256 hex digest of a canonical payload.
type IdemKey string

// String returns the string representation of the idempotency key.
func (k IdemKey) String() string { return string(k) }

// BuildCanonicalPayload transforms a request into normalized canonical form so
// that equivalent requests produce identical keys.
func BuildCanonicalPayload(req *Request) (*CanonicalPayload, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	model := strings.TrimSpace(req.Model)
	switch {
	case provider == "":
		return nil, ErrProviderRequired
	case model == "":
		return nil, ErrModelRequired
	case strings.TrimSpace(req.Prompt) == "":
		return nil, ErrPromptRequired
	}

	payload := &CanonicalPayload{
		TenantID:  req.TenantID,
		Operation: req.Operation,
		Provider:  provider,
		Model:     model,
		System:    normalizeText(req.SystemPrompt),
		Prompt:    normalizeText(req.Prompt),
		Seed:      req.Seed,
		Version:   CurrentCanonicalVersion,
	}

	// Only non-default parameters, to minimize key variations.
	params := make(map[string]any)
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != 0 {
		params["temperature"] = req.Temperature
	}
	if req.JSONMode {
		params["json_mode"] = true
	}
	if len(params) > 0 {
		payload.Params = params
	}
	return payload, nil
}

// BuildIdemKey hashes the payload's JSON form. encoding/json sorts map keys,
// so the encoding is stable.
func BuildIdemKey(payload *CanonicalPayload) (IdemKey, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return IdemKey(hex.EncodeToString(sum[:])), nil
}

// GenerateIdemKey builds the canonical payload and derives its key.
func GenerateIdemKey(req *Request) (IdemKey, error) {
	payload, err := BuildCanonicalPayload(req)
	if err != nil {
		return "", fmt.Errorf("failed to build canonical payload: %w", err)
	}
	return BuildIdemKey(payload)
}

// CacheKey constructs the Redis key for a cached response.
// Format llm:{tenant}:{operation}:{idemkey}.
func CacheKey(tenantID string, operation OperationType, key IdemKey) string {
	if tenantID == "" {
		tenantID = "default"
	}
	return fmt.Sprintf("llm:%s:%s:%s", tenantID, operation, key)
}

// CacheEntry is the persisted result keyed by IdemKey (success-only).
type CacheEntry struct {
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	Content        string          `json:"content"`
	FinishReason   FinishReason    `json:"finish_reason"`
	RequestIDs     []string        `json:"request_ids,omitempty"`
	Usage          NormalizedUsage `json:"usage"`
	StoredAtUnixMs int64           `json:"stored_at_ms"`
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Join(strings.Fields(text), " ")
}
