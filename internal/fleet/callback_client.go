package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/go-discover/internal/bridge"
	"github.com/ahrav/go-discover/internal/llm/configuration"
	"github.com/ahrav/go-discover/internal/llm/retry"
)

// DefaultCallbackRetry is the delivery schedule for completion callbacks.
var DefaultCallbackRetry = configuration.RetryConfig{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
	Multiplier:      2,
	UseJitter:       true,
}

// CallbackError is a callback the orchestrator answered with a non-2xx status.
type CallbackError struct {
	StatusCode int
	Body       string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback rejected (status %d): %s", e.StatusCode, e.Body)
}

func (e *CallbackError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// CallbackClient posts progress and completion back to the orchestrator.
type CallbackClient struct {
	http   *http.Client
	retry  configuration.RetryConfig
	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

// NewCallbackClient returns a client using hc, or a 10s-timeout client when nil.
func NewCallbackClient(hc *http.Client, rc configuration.RetryConfig) *CallbackClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 1
	}
	return &CallbackClient{
		http:   hc,
		retry:  rc,
		sleep:  sleepCtx,
		logger: slog.Default().With("component", "fleet_callbacks"),
	}
}

// Progress posts one progress update. It is best effort and not retried.
func (c *CallbackClient) Progress(ctx context.Context, base, token string, req bridge.ProgressRequest) error {
	return c.post(ctx, endpoint(base, "progress"), token, req)
}

// Complete posts the job's results, retrying transport failures and 5xx
// answers. A 4xx answer is final.
func (c *CallbackClient) Complete(ctx context.Context, base, token string, req bridge.CompleteRequest) error {
	url := endpoint(base, "complete")
	var err error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err = c.post(ctx, url, token, req); err == nil {
			return nil
		}
		var cerr *CallbackError
		if errors.As(err, &cerr) && !cerr.retryable() {
			return err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		delay := retry.ExponentialBackoff(attempt, c.retry)
		c.logger.Warn("completion callback failed, retrying", "url", url, "attempt", attempt, "delay", delay, "error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("completion callback gave up after %d attempts: %w", c.retry.MaxAttempts, err)
}

func (c *CallbackClient) post(ctx context.Context, url, token string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &CallbackError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

func endpoint(base, action string) string {
	return strings.TrimSuffix(base, "/") + "/" + action
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
