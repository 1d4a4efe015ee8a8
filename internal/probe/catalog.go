package probe

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
)

type entry struct {
	name      string
	dimension domain.Dimension
	template  string
}

var catalog = map[string][]entry{
	agents.BrandRecall: {
		{
			name:      "brand_recognition",
			dimension: domain.DimBrandRecognition,
			template: `Without browsing, what do you know about the brand "{{.Brand}}" ({{.Website}})? ` +
				`Score 0-100 how confidently and specifically you can describe what {{.Brand}} is, what it sells, ` +
				`and who it serves. 0 means you have never heard of it.`,
		},
		{
			name:      "knowledge_accuracy",
			dimension: domain.DimKnowledgeAccuracy,
			template: `List the key facts you know about "{{.Brand}}" whose website is {{.Website}}: ` +
				`founding, headquarters, main products, and positioning. Score 0-100 how sure you are that ` +
				`these facts are current and correct.`,
		},
	},
	agents.Sentiment: {
		{
			name:      "brand_sentiment",
			dimension: domain.DimSentiment,
			template: `Describe the general reputation of "{{.Brand}}" ({{.Host}}) as a customer would hear it ` +
				`from an AI assistant. Score 0-100 where 0 is strongly negative, 50 neutral, 100 strongly positive.` +
				`{{if .Degraded}} Prior brand recall data is unavailable; rely on your own knowledge.{{end}}`,
		},
	},
	agents.ShareOfVoice: {
		{
			name:      "citation_share",
			dimension: domain.DimCitationShare,
			template: `A user asks for the best options in the market {{.Brand}} ({{.Website}}) competes in. ` +
				`Name the brands you would cite. Score 0-100 how prominently {{.Brand}} appears relative to its ` +
				`competitors in your answer.`,
		},
	},
	agents.ProductDiscovery: {
		{
			name:      "product_visibility",
			dimension: domain.DimProductVisibility,
			template: `Which specific products or services sold by "{{.Brand}}" ({{.Website}}) can you name, ` +
				`with prices or features? Score 0-100 how completely you can describe its catalogue.` +
				`{{if .Degraded}} Site crawl data is unavailable.{{end}}`,
		},
		{
			name:      "recommendation_rate",
			dimension: domain.DimRecommendationRate,
			template: `A shopper asks you to recommend a product in the category {{.Brand}} ({{.Host}}) is known ` +
				`for. Score 0-100 how likely you are to recommend a {{.Brand}} product first.`,
		},
	},
}

// CatalogOptions shapes the specs built for one agent run.
type CatalogOptions struct {
	Panel      []string
	MaxRetries int
	Degraded   bool
}

// Catalog returns the probe specs that make up a remote agent.
func Catalog(agent string, brand domain.Brand, opts CatalogOptions) ([]Spec, error) {
	entries, ok := catalog[agent]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no probes", domain.ErrUnknownAgent, agent)
	}

	host := brand.WebsiteURL
	if u, err := url.Parse(brand.WebsiteURL); err == nil && u.Host != "" {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}
	vars := map[string]any{
		"Brand":    brand.DisplayName(),
		"Website":  brand.WebsiteURL,
		"Host":     host,
		"Degraded": opts.Degraded,
	}

	specs := make([]Spec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, Spec{
			Name:       agent + "." + e.name,
			Dimension:  e.dimension,
			Template:   e.template,
			Vars:       vars,
			Panel:      opts.Panel,
			MaxRetries: opts.MaxRetries,
		})
	}
	return specs, nil
}

// ProbeAgents lists the agents the catalogue covers.
func ProbeAgents() []string {
	return []string{agents.BrandRecall, agents.Sentiment, agents.ShareOfVoice, agents.ProductDiscovery}
}
