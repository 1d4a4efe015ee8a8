// Package agents holds the static agent graph, the tier definitions, the
// result payloads each agent produces, and the two agents that run
// in-process (site_crawl and structured_data).
package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-discover/internal/domain"
)

// Agent names.
const (
	SiteCrawl        = "site_crawl"
	StructuredData   = "structured_data"
	BrandRecall      = "brand_recall"
	Sentiment        = "sentiment"
	ShareOfVoice     = "share_of_voice"
	ProductDiscovery = "product_discovery"
)

// Mode says which pool executes an agent.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// PrereqKind distinguishes prerequisites that gate execution from ones that
// only enrich it.
type PrereqKind string

const (
	// Hard prerequisites must complete; otherwise the dependent is skipped.
	Hard PrereqKind = "hard"
	// Soft prerequisites may fail; the dependent then runs degraded.
	Soft PrereqKind = "soft"
)

// Prerequisite is one edge in the agent graph.
type Prerequisite struct {
	Agent string
	Kind  PrereqKind
}

// Definition describes one agent.
type Definition struct {
	Name          string
	Mode          Mode
	Prerequisites []Prerequisite
	Dimensions    []domain.Dimension
}

var definitions = []Definition{
	{
		Name:       SiteCrawl,
		Mode:       ModeLocal,
		Dimensions: []domain.Dimension{domain.DimCrawlerAccess, domain.DimLLMsTxt},
	},
	{
		Name:          StructuredData,
		Mode:          ModeLocal,
		Prerequisites: []Prerequisite{{Agent: SiteCrawl, Kind: Hard}},
		Dimensions:    []domain.Dimension{domain.DimStructuredData},
	},
	{
		Name:       BrandRecall,
		Mode:       ModeRemote,
		Dimensions: []domain.Dimension{domain.DimBrandRecognition, domain.DimKnowledgeAccuracy},
	},
	{
		Name:          Sentiment,
		Mode:          ModeRemote,
		Prerequisites: []Prerequisite{{Agent: BrandRecall, Kind: Soft}},
		Dimensions:    []domain.Dimension{domain.DimSentiment},
	},
	{
		Name:       ShareOfVoice,
		Mode:       ModeRemote,
		Dimensions: []domain.Dimension{domain.DimCitationShare},
	},
	{
		Name:          ProductDiscovery,
		Mode:          ModeRemote,
		Prerequisites: []Prerequisite{{Agent: SiteCrawl, Kind: Soft}},
		Dimensions:    []domain.Dimension{domain.DimProductVisibility, domain.DimRecommendationRate},
	},
}

//go:embed tiers.yaml
var defaultTiers []byte

// Registry errors.
var (
	ErrMissingPrerequisite = errors.New("tier omits a prerequisite")
	ErrTierCycle           = errors.New("tier extends itself")
)

// Registry is the immutable agent graph plus the expected agent set per tier.
type Registry struct {
	defs  map[string]Definition
	order []string
	tiers map[domain.Tier][]string
	owner map[domain.Dimension]string
}

type tiersFile struct {
	Tiers map[string]struct {
		Extends string   `yaml:"extends"`
		Agents  []string `yaml:"agents"`
	} `yaml:"tiers"`
}

// DefaultRegistry returns the registry built from the embedded tiers file.
// The embedded file is validated by tests, so a failure here is a build defect.
func DefaultRegistry() *Registry {
	r, err := LoadRegistry(defaultTiers)
	if err != nil {
		panic(fmt.Sprintf("embedded tiers file is invalid: %v", err))
	}
	return r
}

// LoadRegistryFile reads a tiers file from disk. An empty path selects the
// embedded default.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return LoadRegistry(defaultTiers)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return LoadRegistry(data)
}

// LoadRegistry parses a tiers document and checks every tier is known,
// names only registered agents, and includes the prerequisites of its agents.
func LoadRegistry(data []byte) (*Registry, error) {
	var f tiersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}

	r := &Registry{
		defs:  make(map[string]Definition, len(definitions)),
		tiers: make(map[domain.Tier][]string, len(f.Tiers)),
		owner: make(map[domain.Dimension]string),
	}
	for _, d := range definitions {
		r.defs[d.Name] = d
		r.order = append(r.order, d.Name)
		for _, dim := range d.Dimensions {
			r.owner[dim] = d.Name
		}
	}

	for name := range f.Tiers {
		if !domain.Tier(name).Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTier, name)
		}
	}

	var resolve func(name string, seen map[string]bool) ([]string, error)
	resolve = func(name string, seen map[string]bool) ([]string, error) {
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrTierCycle, name)
		}
		seen[name] = true
		t, ok := f.Tiers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTier, name)
		}
		var agents []string
		if t.Extends != "" {
			parent, err := resolve(t.Extends, seen)
			if err != nil {
				return nil, err
			}
			agents = append(agents, parent...)
		}
		for _, a := range t.Agents {
			if !slices.Contains(agents, a) {
				agents = append(agents, a)
			}
		}
		return agents, nil
	}

	for name := range f.Tiers {
		agents, err := resolve(name, map[string]bool{})
		if err != nil {
			return nil, err
		}
		for _, a := range agents {
			def, ok := r.defs[a]
			if !ok {
				return nil, fmt.Errorf("tier %s: %w: %q", name, domain.ErrUnknownAgent, a)
			}
			for _, p := range def.Prerequisites {
				if !slices.Contains(agents, p.Agent) {
					return nil, fmt.Errorf("tier %s: %w: %s needs %s", name, ErrMissingPrerequisite, a, p.Agent)
				}
			}
		}
		r.tiers[domain.Tier(name)] = r.sortByGraph(agents)
	}
	for _, t := range domain.Tiers() {
		if _, ok := r.tiers[t]; !ok {
			return nil, fmt.Errorf("%w: %s is not defined", domain.ErrInvalidTier, t)
		}
	}
	return r, nil
}

// sortByGraph orders agents the way they appear in the static graph, which
// lists prerequisites before dependents.
func (r *Registry) sortByGraph(agents []string) []string {
	out := make([]string, 0, len(agents))
	for _, name := range r.order {
		if slices.Contains(agents, name) {
			out = append(out, name)
		}
	}
	return out
}

// Definition returns the definition for name.
func (r *Registry) Definition(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Names lists every registered agent, prerequisites first.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// ExpectedAgents returns the agents a tier runs, prerequisites first.
func (r *Registry) ExpectedAgents(tier domain.Tier) ([]string, error) {
	agents, ok := r.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}
	return slices.Clone(agents), nil
}

// ExpectedPillars returns the pillars a tier can produce, in canonical order.
func (r *Registry) ExpectedPillars(tier domain.Tier) []domain.Pillar {
	agents, err := r.ExpectedAgents(tier)
	if err != nil {
		return nil
	}
	present := make(map[domain.Pillar]bool)
	for _, a := range agents {
		for _, dim := range r.defs[a].Dimensions {
			if p, ok := domain.PillarOf(dim); ok {
				present[p] = true
			}
		}
	}
	var out []domain.Pillar
	for _, p := range domain.Pillars() {
		if present[p] {
			out = append(out, p)
		}
	}
	return out
}

// Owner returns the agent that produces dim.
func (r *Registry) Owner(dim domain.Dimension) (string, bool) {
	a, ok := r.owner[dim]
	return a, ok
}

// Dependents returns the agents in tier that list name as a prerequisite.
func (r *Registry) Dependents(tier domain.Tier, name string) []string {
	agents, err := r.ExpectedAgents(tier)
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range agents {
		for _, p := range r.defs[a].Prerequisites {
			if p.Agent == name {
				out = append(out, a)
			}
		}
	}
	return out
}
