package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

const redactedPromptPreview = 64

// NewLoggingMiddleware logs the request lifecycle with optional prompt redaction.
func NewLoggingMiddleware(cfg configuration.ObservabilityConfig) transport.Middleware {
	logger := slog.Default().With("component", "llm")
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if req.TraceID == "" {
				req.TraceID = uuid.NewString()
			}

			fields := []any{
				"request_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"operation", req.Operation,
			}
			if cfg.RedactPrompts {
				fields = append(fields, "prompt_len", len(req.Prompt))
			} else {
				fields = append(fields, "prompt", preview(req.Prompt))
			}
			logger.DebugContext(ctx, "llm request", fields...)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			elapsed := time.Since(start)

			if err != nil {
				var pe *llmerrors.ProviderError
				errType := llmerrors.ErrorTypeUnknown
				if errors.As(err, &pe) {
					errType = pe.Type
				}
				logger.WarnContext(ctx, "llm request failed",
					"request_id", req.TraceID,
					"provider", req.Provider,
					"model", req.Model,
					"error_type", errType,
					"duration_ms", elapsed.Milliseconds(),
					"error", err)
				return nil, err
			}

			logger.InfoContext(ctx, "llm request completed",
				"request_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"cached", resp.Cached,
				"total_tokens", resp.Usage.TotalTokens,
				"duration_ms", elapsed.Milliseconds())
			return resp, nil
		})
	}
}

func preview(s string) string {
	if len(s) <= redactedPromptPreview {
		return s
	}
	return s[:redactedPromptPreview] + "..."
}
