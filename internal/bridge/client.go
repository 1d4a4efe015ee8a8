// Package bridge connects the orchestrator to the remote worker fleet: an
// HTTP client that enqueues remote agents, the tokens that scope fleet
// callbacks to one evaluation, and the gin handler that receives them.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-discover/internal/domain"
)

// DefaultTimeout bounds every fleet request.
const DefaultTimeout = 10 * time.Second

// Fleet endpoints.
const (
	pathEnqueue     = "/api/v1/queue/enqueue"
	pathQueueStatus = "/api/v1/queue/status"
	pathJobs        = "/api/v1/queue/jobs/"
)

// Client talks to the fleet's queue API. It holds no job state.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client, whose timeout is DefaultTimeout.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.http = hc } }

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) ClientOption { return func(c *Client) { c.apiKey = key } }

// NewClient returns a Client for the fleet at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default().With("component", "bridge_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue submits req and returns the fleet's job handle.
func (c *Client) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.BridgeJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var job domain.BridgeJob
	if err := c.do(ctx, http.MethodPost, pathEnqueue, req, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, &domain.BridgeError{Message: "fleet returned no job id"}
	}
	c.logger.Debug("enqueued", "evaluation_id", req.EvaluationID, "agents", req.Agents, "job_id", job.JobID)
	return &job, nil
}

// GetStatus returns the fleet's view of one job. A 404 wraps domain.ErrNotFound.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*domain.BridgeJob, error) {
	var job domain.BridgeJob
	if err := c.do(ctx, http.MethodGet, pathJobs+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// QueueStatus returns the fleet's aggregate health.
func (c *Client) QueueStatus(ctx context.Context) (*domain.QueueStatus, error) {
	var qs domain.QueueStatus
	if err := c.do(ctx, http.MethodGet, pathQueueStatus, nil, &qs); err != nil {
		return nil, err
	}
	return &qs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.BridgeError{Message: method + " " + path + " failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.BridgeError{StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		berr := &domain.BridgeError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
		if resp.StatusCode == http.StatusNotFound {
			berr.Cause = domain.ErrNotFound
		}
		return berr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.BridgeError{StatusCode: resp.StatusCode, Message: "malformed response", Cause: err}
	}
	return nil
}

// errorMessage pulls "error" out of a JSON error body, falling back to the
// HTTP status text.
func errorMessage(body []byte, status string) string {
	var e struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Field != "" {
			return e.Field + ": " + e.Error
		}
		return e.Error
	}
	return status
}
