package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Response validation errors.
var (
	ErrNilResponse          = errors.New("nil response")
	ErrEmptyResponseContent = errors.New("empty response content")
	ErrNegativeTokenCount   = errors.New("negative token count")
)

// Router selects the appropriate provider adapter for request routing.
type Router interface {
	Pick(provider, model string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication patterns.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes LLM requests through composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// Middleware executes in the order provided with the first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that makes actual HTTP requests.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	return &httpHandler{
		client: client,
		router: router,
		logger: slog.Default().With("component", "llm_http"),
	}
}

type httpHandler struct {
	client *http.Client
	router Router
	logger *slog.Logger
}

// Handle implements Handler by making HTTP requests to providers.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := h.router.Pick(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, httpResp.Body)
		if cerr := httpResp.Body.Close(); cerr != nil {
			h.logger.Debug("closing response body", "error", cerr)
		}
	}()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	resp.Usage.LatencyMs = latency.Milliseconds()

	if err := ValidateResponse(resp); err != nil {
		return nil, fmt.Errorf("invalid provider response: %w", err)
	}
	return resp, nil
}

// ValidateResponse checks response completeness before it reaches callers.
func ValidateResponse(resp *Response) error {
	if resp == nil {
		return ErrNilResponse
	}
	if resp.Content == "" && resp.FinishReason != FinishToolUse {
		return ErrEmptyResponseContent
	}
	if resp.Usage.TotalTokens < 0 || resp.Usage.PromptTokens < 0 || resp.Usage.CompletionTokens < 0 {
		return ErrNegativeTokenCount
	}
	return nil
}
