package agents

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/go-discover/internal/domain"
)

// Result is the payload an agent stores on its execution row. The concrete
// type is selected by agent name; see DecodeResult.
type Result interface {
	isResult()
}

// CrawlReport is the site_crawl payload.
type CrawlReport struct {
	SiteURL         string          `json:"siteUrl"`
	HomepageStatus  int             `json:"homepageStatus"`
	HomepageURL     string          `json:"homepageUrl,omitempty"`
	RobotsFound     bool            `json:"robotsFound"`
	Bots            map[string]bool `json:"bots"`
	LLMsTxtFound    bool            `json:"llmsTxtFound"`
	LLMsTxtBytes    int             `json:"llmsTxtBytes"`
	LLMsTxtSections int             `json:"llmsTxtSections"`
	LLMsTxtLinks    int             `json:"llmsTxtLinks"`
	Sitemaps        []string        `json:"sitemaps,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
}

// AllowedBots counts the AI crawlers robots.txt lets through.
func (r CrawlReport) AllowedBots() int {
	n := 0
	for _, ok := range r.Bots {
		if ok {
			n++
		}
	}
	return n
}

// StructuredDataReport is the structured_data payload.
type StructuredDataReport struct {
	PagesScanned  []string `json:"pagesScanned"`
	JSONLDBlocks  int      `json:"jsonLdBlocks"`
	InvalidBlocks int      `json:"invalidBlocks"`
	Types         []string `json:"types"`
}

// HasType reports whether any scanned block declared @type t.
func (r StructuredDataReport) HasType(t string) bool {
	for _, have := range r.Types {
		if have == t {
			return true
		}
	}
	return false
}

// ProbeBatch is the payload of every remote probe agent.
type ProbeBatch struct {
	Probes []domain.ProbeResult `json:"probes"`
}

func (CrawlReport) isResult()          {}
func (StructuredDataReport) isResult() {}
func (ProbeBatch) isResult()           {}

// DecodeResult parses raw into the payload type agent produces.
func DecodeResult(agent string, raw json.RawMessage) (Result, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty result", agent)
	}
	var (
		out Result
		err error
	)
	switch agent {
	case SiteCrawl:
		var r CrawlReport
		err = json.Unmarshal(raw, &r)
		out = r
	case StructuredData:
		var r StructuredDataReport
		err = json.Unmarshal(raw, &r)
		out = r
	case BrandRecall, Sentiment, ShareOfVoice, ProductDiscovery:
		var r ProbeBatch
		err = json.Unmarshal(raw, &r)
		out = r
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAgent, agent)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", agent, err)
	}
	return out, nil
}
