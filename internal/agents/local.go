package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ahrav/go-discover/internal/domain"
)

// Local fetch limits.
const (
	DefaultFetchTimeout = 15 * time.Second
	maxBodyBytes        = 2 << 20
	userAgent           = "go-discover/1.0 (+https://github.com/ahrav/go-discover)"
)

// Input is what a local agent receives.
type Input struct {
	EvaluationID string
	Brand        domain.Brand
	// Prior holds the decoded results of completed prerequisites.
	Prior map[string]Result
	// Degraded is set when a soft prerequisite did not complete.
	Degraded bool
}

// LocalAgent is an agent executed in the orchestrator's own process.
type LocalAgent interface {
	Name() string
	Run(ctx context.Context, in Input) (Result, error)
}

// NewLocalAgents returns every in-process agent keyed by name.
func NewLocalAgents(client *http.Client) map[string]LocalAgent {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	f := &fetcher{client: client}
	return map[string]LocalAgent{
		SiteCrawl:      &siteCrawler{fetch: f},
		StructuredData: &structuredDataScanner{fetch: f},
	}
}

type fetcher struct {
	client *http.Client
}

type page struct {
	URL    string
	Status int
	Body   []byte
}

func (f *fetcher) get(ctx context.Context, target string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return &page{URL: resp.Request.URL.String(), Status: resp.StatusCode, Body: body}, nil
}

// siteRoot returns scheme://host of the brand website.
func siteRoot(website string) (*url.URL, error) {
	u, err := url.Parse(website)
	if err != nil {
		return nil, fmt.Errorf("parse website url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, domain.NewValidationError("websiteUrl", "must be an absolute URL")
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, nil
}
