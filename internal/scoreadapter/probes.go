// Package scoreadapter converts agent results into canonical dimension
// scores. It performs no I/O and is the only place that branches on which
// agent produced a result.
package scoreadapter

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ahrav/go-discover/internal/domain"
)

// MapProbesToDimensionScores folds probe results into one DimensionScore per
// dimension, ordered by dimension name. The score is the confidence-weighted
// mean of the valid results, or their plain mean when every confidence is
// zero; without valid results any result carrying a score is used.
// Dimensions with nothing to score are omitted.
func MapProbesToDimensionScores(results []domain.ProbeResult, evaluationID string) []domain.DimensionScore {
	byDim := make(map[domain.Dimension][]domain.ProbeResult)
	for _, r := range results {
		if r.Dimension == "" {
			continue
		}
		byDim[r.Dimension] = append(byDim[r.Dimension], r)
	}

	dims := make([]domain.Dimension, 0, len(byDim))
	for d := range byDim {
		dims = append(dims, d)
	}
	slices.Sort(dims)

	out := make([]domain.DimensionScore, 0, len(dims))
	for _, dim := range dims {
		ds, ok := foldDimension(dim, byDim[dim])
		if !ok {
			continue
		}
		ds.EvaluationID = evaluationID
		out = append(out, ds)
	}
	return out
}

func foldDimension(dim domain.Dimension, results []domain.ProbeResult) (domain.DimensionScore, bool) {
	results = slices.Clone(results)
	slices.SortStableFunc(results, compareResults)

	var valid []domain.ProbeResult
	for _, r := range results {
		if r.WasValid && r.Score != nil {
			valid = append(valid, r)
		}
	}

	var score, confidence float64
	switch {
	case len(valid) > 0:
		var sum, wsum, plain, csum float64
		for _, r := range valid {
			sum += *r.Score * r.Confidence
			wsum += r.Confidence
			plain += *r.Score
			csum += r.Confidence
		}
		if wsum > 0 {
			score = sum / wsum
		} else {
			score = plain / float64(len(valid))
		}
		confidence = csum / float64(len(valid))
	default:
		var n int
		for _, r := range results {
			if r.Score != nil {
				score += *r.Score
				n++
			}
		}
		if n == 0 {
			return domain.DimensionScore{}, false
		}
		score /= float64(n)
	}

	score = domain.ClampScore(score)
	ds := domain.DimensionScore{
		Dimension:  dim,
		Score:      score,
		Confidence: domain.Clamp01(confidence),
	}
	ds.Explanation, ds.Recommendations = narrative(results)
	if ds.Explanation == "" {
		ds.Explanation = synthesizeExplanation(dim, score)
	}
	if len(ds.Recommendations) == 0 {
		ds.Recommendations = synthesizeRecommendations(dim, score)
	}
	return ds, true
}

// compareResults gives probe results a canonical order so float
// accumulation does not depend on arrival order.
func compareResults(a, b domain.ProbeResult) int {
	return cmp.Or(
		strings.Compare(a.ProbeName, b.ProbeName),
		strings.Compare(a.Provider, b.Provider),
		cmp.Compare(scoreOf(a), scoreOf(b)),
		cmp.Compare(a.Confidence, b.Confidence),
	)
}

func scoreOf(r domain.ProbeResult) float64 {
	if r.Score == nil {
		return -1
	}
	return *r.Score
}

// narrative picks explanation and recommendations from the most confident
// results that carry them.
func narrative(results []domain.ProbeResult) (string, []string) {
	ranked := slices.Clone(results)
	slices.SortStableFunc(ranked, func(a, b domain.ProbeResult) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return strings.Compare(a.Provider, b.Provider)
		}
	})

	var (
		explanation string
		recs        []string
	)
	for _, r := range ranked {
		if len(r.Output) == 0 {
			continue
		}
		var out domain.ProbeOutput
		if err := json.Unmarshal(r.Output, &out); err != nil {
			continue
		}
		if explanation == "" && strings.TrimSpace(out.Explanation) != "" {
			explanation = strings.TrimSpace(out.Explanation)
		}
		if len(recs) == 0 && len(out.Recommendations) > 0 {
			recs = slices.Clone(out.Recommendations)
		}
		if explanation != "" && len(recs) > 0 {
			break
		}
	}
	return explanation, recs
}

// Bucket names the band a score falls in.
func Bucket(score float64) string {
	switch {
	case score >= 80:
		return "strong"
	case score >= 60:
		return "moderate"
	case score >= 40:
		return "weak"
	default:
		return "critical"
	}
}

func synthesizeExplanation(dim domain.Dimension, score float64) string {
	return fmt.Sprintf("%s %s at %.0f/100.", humanize(dim), Bucket(score), score)
}

var improvements = map[domain.Dimension]string{
	domain.DimCrawlerAccess:      "Allow AI crawlers such as GPTBot and ClaudeBot in robots.txt.",
	domain.DimLLMsTxt:            "Publish an /llms.txt that summarizes the site and links key pages.",
	domain.DimStructuredData:     "Add schema.org JSON-LD for Organization, WebSite and Product.",
	domain.DimBrandRecognition:   "Earn coverage on sources models train on: press, Wikipedia, review sites.",
	domain.DimKnowledgeAccuracy:  "Keep a canonical facts page and correct outdated third-party listings.",
	domain.DimSentiment:          "Address recurring complaints and surface recent positive reviews.",
	domain.DimCitationShare:      "Publish comparison and category pages that assistants can cite.",
	domain.DimProductVisibility:  "Expose product names, prices and specs in crawlable pages and feeds.",
	domain.DimRecommendationRate: "Collect third-party reviews and awards that support recommendations.",
}

func synthesizeRecommendations(dim domain.Dimension, score float64) []string {
	if Bucket(score) == "strong" {
		return []string{fmt.Sprintf("Maintain current %s; re-evaluate after major site changes.", humanize(dim))}
	}
	if rec, ok := improvements[dim]; ok {
		return []string{rec}
	}
	return []string{fmt.Sprintf("Improve %s.", humanize(dim))}
}

func humanize(dim domain.Dimension) string {
	if dim == domain.DimLLMsTxt {
		return "llms.txt"
	}
	s := strings.ReplaceAll(string(dim), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
