package fleet

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/probe"
)

// ErrNoValidProbes fails an agent whose every probe response was unusable.
var ErrNoValidProbes = errors.New("no probe produced a valid response")

// Runner executes one remote agent for a job.
type Runner interface {
	Run(ctx context.Context, agent string, req domain.EnqueueRequest) (agents.Result, error)
}

// ProbeRunner runs remote agents as batches of LLM probes.
type ProbeRunner struct {
	harness    *probe.Harness
	panel      []string
	maxRetries int
}

// NewProbeRunner returns a runner over h. An empty panel uses the harness
// default; a negative maxRetries uses the harness default.
func NewProbeRunner(h *probe.Harness, panel []string, maxRetries int) *ProbeRunner {
	return &ProbeRunner{harness: h, panel: panel, maxRetries: maxRetries}
}

func (r *ProbeRunner) Run(ctx context.Context, agent string, req domain.EnqueueRequest) (agents.Result, error) {
	brand := domain.Brand{ID: req.Metadata["brandId"], WebsiteURL: req.WebsiteURL, Name: req.BrandName}
	specs, err := probe.Catalog(agent, brand, probe.CatalogOptions{
		Panel:      r.panel,
		MaxRetries: r.maxRetries,
		Degraded:   slices.Contains(req.Degraded, agent),
	})
	if err != nil {
		return nil, err
	}
	results := r.harness.Run(ctx, specs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(results, func(p domain.ProbeResult) bool { return p.WasValid }) {
		return nil, fmt.Errorf("%s: %w (%d attempts)", agent, ErrNoValidProbes, len(results))
	}
	return agents.ProbeBatch{Probes: results}, nil
}
