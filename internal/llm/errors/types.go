// Package errors defines the LLM transport error taxonomy used to decide
// retries and to report provider failures upstream.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorType categorizes LLM operation failures for retry classification.
type ErrorType string

const (
	ErrorTypeTimeout    ErrorType = "timeout"              // retryable
	ErrorTypeRateLimit  ErrorType = "rate_limit"           // retryable with backoff
	ErrorTypeNetwork    ErrorType = "network"              // retryable
	ErrorTypeProvider   ErrorType = "provider_unavailable" // retryable
	ErrorTypeValidation ErrorType = "validation_failed"
	ErrorTypeContent    ErrorType = "content_filtered"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypePermission ErrorType = "permission_denied"
	ErrorTypeQuota      ErrorType = "quota_exceeded"
	ErrorTypeCircuit    ErrorType = "circuit_breaker" // provider skipped while its circuit is open
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Common LLM operation errors.
var (
	ErrProviderUnavailable = errors.New("provider service unavailable")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrCacheMiss           = errors.New("cache miss")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrUnknownModel        = errors.New("unknown model")
	ErrInvalidResponse     = errors.New("invalid provider response")
	ErrMaxRetriesExceeded  = errors.New("maximum retries exceeded")
)

// ProviderError captures structured error responses from LLM providers.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements the retry-after provider contract.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError provides rate limit context for backoff calculation.
type RateLimitError struct {
	Provider   string        `json:"provider"`
	RetryAfter time.Duration `json:"retry_after"`
	LocalLimit bool          `json:"local_limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter implements the retry-after provider contract.
func (e *RateLimitError) GetRetryAfter() time.Duration { return e.RetryAfter }

// Unwrap lets errors.Is match ErrRateLimitExceeded.
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// IsRetryableError determines if an error warrants another attempt.
// Unknown errors are not retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	if errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsNetworkError(err)
}

// IsRateLimitError identifies rate limiting errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeRateLimit
	}
	return errors.Is(err, ErrRateLimitExceeded)
}

// RetryAfter extracts the provider's retry guidance, or 0.
func RetryAfter(err error) time.Duration {
	var p interface{ GetRetryAfter() time.Duration }
	if errors.As(err, &p) {
		return p.GetRetryAfter()
	}
	return 0
}

// IsNetworkError detects connectivity failures using type assertions first
// and message patterns as a fallback.
func IsNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return networkMessage(urlErr.Err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return networkMessage(err.Error())
}

var networkIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"eof",
}

func networkMessage(msg string) bool {
	lowered := strings.ToLower(msg)
	for _, ind := range networkIndicators {
		if strings.Contains(lowered, ind) {
			return true
		}
	}
	return false
}

// ServerErrorStatusThreshold is the first HTTP status treated as a provider outage.
const ServerErrorStatusThreshold = 500

// ClassifyStatus determines ErrorType from an HTTP status and a provider
// error code. Provider codes win over status codes when they are specific.
func ClassifyStatus(statusCode int, errorCode string) ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized"):
		return ErrorTypeAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return ErrorTypePermission
	case strings.Contains(lowerCode, "quota"):
		return ErrorTypeQuota
	case strings.Contains(lowerCode, "overloaded"):
		return ErrorTypeProvider
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return ErrorTypeAuth
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return ErrorTypeProvider
		}
		return ErrorTypeUnknown
	}
}
