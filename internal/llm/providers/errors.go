package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
)

// ErrUnsupportedOperation is returned for operations an adapter cannot build.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// newProviderError builds a classified ProviderError from an HTTP failure.
// message and code come from the provider's JSON error body when present.
func newProviderError(provider string, resp *http.Response, body []byte, message, code string) *llmerrors.ProviderError {
	if message == "" {
		message = string(body)
	}
	return &llmerrors.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Type:       llmerrors.ClassifyStatus(resp.StatusCode, code),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter reads the delta-seconds form of Retry-After.
func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func decodeJSON(body []byte, v any) bool {
	return json.Unmarshal(body, v) == nil
}
