// Package probe runs templated brand questions against a panel of LLM
// providers and turns each answer into a scored, confidence-weighted
// ProbeResult.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"text/template"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/llm"
	"github.com/ahrav/go-discover/internal/llm/configuration"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

// Harness defaults.
const (
	DefaultMaxConcurrency = 4
	DefaultMaxRetries     = 2
	DefaultTemperature    = llm.DefaultProbeTemperature
)

const systemPrompt = `You assess how AI assistants perceive brands. ` +
	`Answer only with a JSON object of the form ` +
	`{"score": <number 0-100>, "explanation": "<one or two sentences>", "recommendations": ["<action>", ...]}.`

// Spec is one templated probe.
type Spec struct {
	Name      string
	Dimension domain.Dimension
	// Template is text/template source rendered with Vars.
	Template string
	Vars     map[string]any
	// Panel lists the providers the probe is sent to. Empty uses the
	// harness default panel.
	Panel []string
	// MaxRetries bounds parse retries per panel slot. Negative uses the
	// harness default.
	MaxRetries int
}

// Config tunes a Harness.
type Config struct {
	// Panel is the default provider panel.
	Panel []string
	// FallbackOrder is walked on retry, starting after the provider that
	// just failed.
	FallbackOrder []string
	// Weights holds provider reliability weights; missing providers weigh 1.
	Weights        map[string]float64
	MaxConcurrency int
	Temperature    float64
	MaxTokens      int64
}

// ConfigFromLLM derives the panel, fallback order and weights from the
// transport's provider set.
func ConfigFromLLM(cfg *configuration.Config) Config {
	names := make([]string, 0, len(cfg.Providers))
	weights := make(map[string]float64, len(cfg.Providers))
	for name, p := range cfg.Providers {
		names = append(names, name)
		weights[name] = p.Weight
	}
	slices.Sort(names)
	return Config{
		Panel:          names,
		FallbackOrder:  names,
		Weights:        weights,
		MaxConcurrency: DefaultMaxConcurrency,
		Temperature:    DefaultTemperature,
	}
}

// Harness executes probes. It is safe for concurrent use.
type Harness struct {
	client llm.Client
	cfg    Config
	parser *parser
	logger *slog.Logger
}

// NewHarness builds a harness over client.
func NewHarness(client llm.Client, cfg Config) (*Harness, error) {
	if client == nil {
		return nil, errors.New("probe harness requires an llm client")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	schema, err := compileOutputSchema()
	if err != nil {
		return nil, err
	}
	return &Harness{
		client: client,
		cfg:    cfg,
		parser: &parser{schema: schema},
		logger: slog.Default().With("component", "probe_harness"),
	}, nil
}

// Run sends every spec to every provider of its panel and returns one
// result per (spec, panel slot), in spec then panel order. It never fails:
// problems are reported on the individual results.
func (h *Harness) Run(ctx context.Context, specs []Spec) []domain.ProbeResult {
	groups := make([][]domain.ProbeResult, len(specs))
	sem := make(chan struct{}, h.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, spec := range specs {
		panel := spec.Panel
		if len(panel) == 0 {
			panel = h.cfg.Panel
		}
		groups[i] = make([]domain.ProbeResult, len(panel))

		prompt, err := render(spec)
		if err != nil {
			for j, provider := range panel {
				groups[i][j] = invalidResult(spec, provider, 0, err)
			}
			continue
		}

		for j, provider := range panel {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						h.logger.Error("probe panicked", "probe", spec.Name, "provider", provider, "panic", r)
						groups[i][j] = invalidResult(spec, provider, 0, fmt.Errorf("panic: %v", r))
					}
				}()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					groups[i][j] = invalidResult(spec, provider, 0, ctx.Err())
					return
				}
				groups[i][j] = h.probe(ctx, spec, prompt, provider)
			}()
		}
	}
	wg.Wait()

	var out []domain.ProbeResult
	for _, g := range groups {
		scoreConfidence(g, h.cfg.Weights)
		out = append(out, g...)
	}
	return out
}

// probe runs one panel slot, retrying invalid output on the next provider
// in the fallback order.
func (h *Harness) probe(ctx context.Context, spec Spec, prompt, provider string) domain.ProbeResult {
	retries := spec.MaxRetries
	if retries < 0 {
		retries = DefaultMaxRetries
	}

	current := provider
	attempts := 0
	var lastErr error
	for attempts < retries+1 {
		if attempts > 0 {
			current = h.next(current)
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++

		req := &transport.Request{
			Operation:    transport.OpProbe,
			Provider:     current,
			Prompt:       prompt,
			SystemPrompt: systemPrompt,
			MaxTokens:    h.cfg.MaxTokens,
			Temperature:  h.cfg.Temperature,
			JSONMode:     true,
			Metadata:     map[string]string{"probe": spec.Name, "dimension": string(spec.Dimension)},
		}
		resp, err := h.client.Complete(ctx, req)
		if err != nil {
			lastErr = err
			h.logger.Warn("probe request failed", "probe", spec.Name, "provider", current, "attempt", attempts, "error", err)
			continue
		}
		out, raw, err := h.parser.parse(resp.Content)
		if err != nil {
			lastErr = err
			h.logger.Warn("probe output invalid", "probe", spec.Name, "provider", current, "attempt", attempts, "error", err)
			continue
		}

		score := out.Score
		return domain.ProbeResult{
			ProbeName: spec.Name,
			Dimension: spec.Dimension,
			Provider:  current,
			Model:     req.Model,
			Output:    raw,
			Score:     &score,
			WasValid:  true,
			Attempts:  attempts,
		}
	}
	return invalidResult(spec, provider, attempts, lastErr)
}

// next returns the provider after current in the fallback order, wrapping
// around. Providers outside the order restart it from the beginning.
func (h *Harness) next(current string) string {
	order := h.cfg.FallbackOrder
	if len(order) == 0 {
		return current
	}
	idx := slices.Index(order, current)
	return order[(idx+1)%len(order)]
}

func invalidResult(spec Spec, provider string, attempts int, cause error) domain.ProbeResult {
	err := &domain.ProbeInvalidResponse{Probe: spec.Name, Attempts: attempts, Cause: cause}
	return domain.ProbeResult{
		ProbeName: spec.Name,
		Dimension: spec.Dimension,
		Provider:  provider,
		Attempts:  attempts,
		Error:     err.Error(),
	}
}

func render(spec Spec) (string, error) {
	tmpl, err := template.New(spec.Name).Option("missingkey=error").Parse(spec.Template)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", spec.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, spec.Vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", spec.Name, err)
	}
	return buf.String(), nil
}
