package scoreadapter

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
)

// DegradedConfidenceFactor scales the confidence of scores produced by an
// agent that ran without one of its soft prerequisites.
const DegradedConfidenceFactor = 0.75

// ErrNotCompleted is returned for executions that have no result to score.
var ErrNotCompleted = errors.New("execution is not completed")

// FromExecution derives the dimension scores of one completed execution.
func FromExecution(exec domain.AgentExecution) ([]domain.DimensionScore, error) {
	if exec.Status != domain.ExecutionCompleted {
		return nil, fmt.Errorf("%s/%s: %w", exec.EvaluationID, exec.AgentName, ErrNotCompleted)
	}
	res, err := agents.DecodeResult(exec.AgentName, exec.Result)
	if err != nil {
		return nil, err
	}

	var scores []domain.DimensionScore
	switch r := res.(type) {
	case agents.CrawlReport:
		scores = crawlScores(r)
	case agents.StructuredDataReport:
		scores = []domain.DimensionScore{structuredDataScore(r)}
	case agents.ProbeBatch:
		scores = MapProbesToDimensionScores(r.Probes, exec.EvaluationID)
	default:
		return nil, fmt.Errorf("%w: unhandled result %T", domain.ErrUnknownAgent, res)
	}

	createdAt := exec.UpdatedAt
	if exec.CompletedAt != nil {
		createdAt = *exec.CompletedAt
	}
	for i := range scores {
		s := &scores[i]
		s.EvaluationID = exec.EvaluationID
		s.SourceAgent = exec.AgentName
		s.CreatedAt = createdAt
		s.Score = domain.ClampScore(s.Score)
		if exec.Degraded {
			s.Confidence *= DegradedConfidenceFactor
		}
		s.Confidence = domain.Clamp01(s.Confidence)
	}
	return scores, nil
}

func crawlScores(r agents.CrawlReport) []domain.DimensionScore {
	reachable := r.HomepageStatus >= 200 && r.HomepageStatus < 400

	access := domain.DimensionScore{Dimension: domain.DimCrawlerAccess, Confidence: 0.95}
	var blocked []string
	for bot, allowed := range r.Bots {
		if !allowed {
			blocked = append(blocked, bot)
		}
	}
	slices.Sort(blocked)
	switch {
	case !reachable:
		access.Score = 0
		access.Explanation = fmt.Sprintf("Homepage was not reachable (status %d); AI crawlers cannot read the site.", r.HomepageStatus)
		access.Recommendations = []string{"Make the homepage reachable to automated clients without challenges."}
	case len(r.Bots) == 0:
		access.Score = 100
		access.Confidence = 0.5
		access.Explanation = "No crawler rules were evaluated; access assumed open."
	default:
		access.Score = 100 * float64(r.AllowedBots()) / float64(len(r.Bots))
		if !r.RobotsFound {
			access.Confidence = 0.7
			access.Explanation = "No robots.txt found; all AI crawlers are allowed by default."
		} else if len(blocked) == 0 {
			access.Explanation = "robots.txt allows every major AI crawler."
		} else {
			access.Explanation = fmt.Sprintf("robots.txt blocks %d of %d AI crawlers.", len(blocked), len(r.Bots))
			access.Recommendations = []string{"Allow " + strings.Join(blocked, ", ") + " in robots.txt."}
		}
	}
	if len(access.Recommendations) == 0 {
		access.Recommendations = synthesizeRecommendations(domain.DimCrawlerAccess, access.Score)
	}

	llms := domain.DimensionScore{Dimension: domain.DimLLMsTxt, Confidence: 0.9}
	if r.LLMsTxtFound {
		llms.Score = 40 + float64(min(r.LLMsTxtSections, 4)*10) + float64(min(r.LLMsTxtLinks, 10)*2)
		llms.Explanation = fmt.Sprintf("llms.txt present with %d sections and %d links.", r.LLMsTxtSections, r.LLMsTxtLinks)
		llms.Recommendations = synthesizeRecommendations(domain.DimLLMsTxt, llms.Score)
	} else {
		llms.Explanation = "No llms.txt found at the site root."
		llms.Recommendations = []string{improvements[domain.DimLLMsTxt]}
	}
	return []domain.DimensionScore{access, llms}
}

// schema.org types that earn structured data credit.
var structuredDataCredits = []struct {
	types  []string
	points float64
	advice string
}{
	{[]string{"Organization", "Corporation", "LocalBusiness"}, 20, "Add Organization markup with name, logo and sameAs links."},
	{[]string{"WebSite"}, 15, "Add WebSite markup with a SearchAction."},
	{[]string{"Product", "Offer"}, 20, "Add Product and Offer markup for key products."},
	{[]string{"FAQPage", "BreadcrumbList", "Review", "AggregateRating"}, 15, "Add FAQPage, BreadcrumbList or review markup."},
}

func structuredDataScore(r agents.StructuredDataReport) domain.DimensionScore {
	ds := domain.DimensionScore{Dimension: domain.DimStructuredData, Confidence: 0.9}
	if r.JSONLDBlocks == 0 {
		ds.Explanation = "No valid JSON-LD structured data found on the homepage."
		ds.Recommendations = []string{improvements[domain.DimStructuredData]}
		if r.InvalidBlocks > 0 {
			ds.Recommendations = append(ds.Recommendations, "Fix JSON-LD blocks that fail to parse.")
		}
		return ds
	}

	score := 30.0
	for _, c := range structuredDataCredits {
		if slices.ContainsFunc(c.types, r.HasType) {
			score += c.points
		} else {
			ds.Recommendations = append(ds.Recommendations, c.advice)
		}
	}
	score -= 10 * float64(r.InvalidBlocks)
	if r.InvalidBlocks > 0 {
		ds.Recommendations = append(ds.Recommendations, "Fix JSON-LD blocks that fail to parse.")
	}
	ds.Score = domain.ClampScore(score)
	ds.Explanation = fmt.Sprintf("%d JSON-LD blocks declaring %s.", r.JSONLDBlocks, strings.Join(r.Types, ", "))
	if len(ds.Recommendations) == 0 {
		ds.Recommendations = synthesizeRecommendations(domain.DimStructuredData, ds.Score)
	}
	return ds
}
