// Package httpapi holds the JSON error envelope and middleware shared by the
// gin servers in this module.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-discover/internal/domain"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		verr *domain.ValidationError
		berr *domain.BridgeError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEvaluationTerminal):
		return http.StatusConflict
	case errors.As(err, &berr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Abort writes err with the status StatusFor picks and stops the chain.
func Abort(c *gin.Context, err error) {
	AbortWithStatus(c, StatusFor(err), err)
}

// AbortWithStatus writes err with an explicit status and stops the chain.
func AbortWithStatus(c *gin.Context, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		// Internal details stay in the log.
		resp.Error = http.StatusText(status)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// Recovery turns a handler panic into a structured 500.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("handler panicked", "method", c.Request.Method, "path", c.FullPath(), "panic", recovered)
		AbortWithStatus(c, http.StatusInternalServerError, fmt.Errorf("panic: %v", recovered))
	})
}

// RequestLogger logs one line per request at Info, or Warn for 4xx/5xx.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		attrs := []any{"method", c.Request.Method, "path", c.FullPath(), "status", status}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		logger.Log(c.Request.Context(), level, "request", attrs...)
	}
}

// BindJSON decodes the request body into v and validates it, reporting the
// offending field as a *domain.ValidationError.
func BindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return domain.NewValidationError(te.Field, "must be a "+te.Type.String())
		}
		return &domain.ValidationError{Message: "malformed JSON body", Cause: err}
	}
	return domain.ValidateStruct(v)
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return h[len(prefix):]
}
