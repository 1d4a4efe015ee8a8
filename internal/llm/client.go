// Package llm wires provider adapters and resilience middleware into a
// single client used to run brand probes against OpenAI, Anthropic and
// Google models.
package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-discover/internal/llm/cache"
	"github.com/ahrav/go-discover/internal/llm/circuitbreaker"
	"github.com/ahrav/go-discover/internal/llm/configuration"
	"github.com/ahrav/go-discover/internal/llm/providers"
	"github.com/ahrav/go-discover/internal/llm/ratelimit"
	"github.com/ahrav/go-discover/internal/llm/retry"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

// Token and sampling defaults for probe calls.
const (
	DefaultMaxTokens        = 800
	DefaultProbeTemperature = 0.2
)

// Client completes a single prompt against one provider.
type Client interface {
	Complete(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Option customizes client construction.
type Option func(*options)

type options struct {
	redis   redis.UniversalClient
	handler transport.Handler
}

// WithRedis shares a Redis client between the cache, the global rate
// limiter and the circuit breaker trial guard.
func WithRedis(c redis.UniversalClient) Option { return func(o *options) { o.redis = c } }

// WithCoreHandler replaces the HTTP handler at the bottom of the pipeline.
// Tests use it to script provider responses.
func WithCoreHandler(h transport.Handler) Option { return func(o *options) { o.handler = h } }

type client struct {
	config  *configuration.Config
	handler transport.Handler
}

// NewClient builds the middleware pipeline:
// logging -> cache -> rate limit -> retry -> circuit breaker -> provider HTTP.
// The breaker sits inside retry so every attempt counts toward opening it
// and an open circuit ends the retry loop at once.
func NewClient(ctx context.Context, cfg *configuration.Config, opts ...Option) (Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm configuration: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	core := o.handler
	if core == nil {
		router, err := providers.NewRouter(cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("failed to create router: %w", err)
		}
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = newHTTPClient(cfg.HTTPTimeout)
		}
		core = transport.NewHTTPHandler(httpClient, router)
	}

	retryMW, err := retry.NewRetryMiddlewareWithConfig(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry middleware: %w", err)
	}
	rateMW, err := ratelimit.NewRateLimitMiddlewareWithRedis(cfg.RateLimit, o.redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit middleware: %w", err)
	}
	breakerMW, err := circuitbreaker.NewCircuitBreakerMiddlewareWithRedis(cfg.CircuitBreaker, o.redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker middleware: %w", err)
	}
	cacheMW := cache.NewCacheMiddlewareWithRedis(ctx, cfg.Cache, o.redis)

	handler := transport.Chain(core,
		NewLoggingMiddleware(cfg.Observability),
		cacheMW.Wrap,
		rateMW,
		retryMW,
		breakerMW.Wrap,
	)
	return &client{config: cfg, handler: handler}, nil
}

// Complete fills provider defaults and sends the request through the pipeline.
func (c *client) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req.Operation == "" {
		req.Operation = transport.OpProbe
	}
	if req.Model == "" {
		if p, ok := c.config.Providers[req.Provider]; ok {
			req.Model = p.Model
		}
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Timeout == 0 {
		if p, ok := c.config.Providers[req.Provider]; ok && p.Timeout > 0 {
			req.Timeout = p.Timeout
		}
	}
	return c.handler.Handle(ctx, req)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = configuration.DefaultHTTPTimeoutSeconds * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        configuration.DefaultMaxIdleConns,
			IdleConnTimeout:     configuration.DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
