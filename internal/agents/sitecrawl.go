package agents

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/temoto/robotstxt"
)

// AIBots are the crawler user agents checked against robots.txt.
var AIBots = []string{
	"GPTBot",
	"ChatGPT-User",
	"OAI-SearchBot",
	"ClaudeBot",
	"anthropic-ai",
	"Google-Extended",
	"PerplexityBot",
	"CCBot",
}

type siteCrawler struct {
	fetch *fetcher
}

func (s *siteCrawler) Name() string { return SiteCrawl }

// Run fetches the homepage, robots.txt and llms.txt. Partial failures are
// recorded on the report; only an unusable website URL is an error.
func (s *siteCrawler) Run(ctx context.Context, in Input) (Result, error) {
	root, err := siteRoot(in.Brand.WebsiteURL)
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "site_crawl", "evaluation_id", in.EvaluationID)

	report := CrawlReport{SiteURL: root.String(), Bots: make(map[string]bool, len(AIBots))}

	home, err := s.fetch.get(ctx, in.Brand.WebsiteURL)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.HomepageStatus = home.Status
		report.HomepageURL = home.URL
	}

	robots := s.robots(ctx, root.JoinPath("robots.txt").String(), &report)
	for _, bot := range AIBots {
		report.Bots[bot] = robots.TestAgent("/", bot)
	}
	report.Sitemaps = robots.Sitemaps

	s.llmsTxt(ctx, root.JoinPath("llms.txt").String(), &report)

	logger.Info("site crawl finished",
		"homepage_status", report.HomepageStatus,
		"robots_found", report.RobotsFound,
		"allowed_bots", report.AllowedBots(),
		"llms_txt", report.LLMsTxtFound)
	return report, nil
}

// robots returns the parsed robots.txt. A missing or unreachable file
// allows every agent.
func (s *siteCrawler) robots(ctx context.Context, target string, report *CrawlReport) *robotstxt.RobotsData {
	p, err := s.fetch.get(ctx, target)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
		return data
	}
	data, err := robotstxt.FromStatusAndBytes(p.Status, p.Body)
	if err != nil {
		report.Errors = append(report.Errors, "robots.txt: "+err.Error())
		data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
		return data
	}
	report.RobotsFound = p.Status >= 200 && p.Status < 300
	return data
}

func (s *siteCrawler) llmsTxt(ctx context.Context, target string, report *CrawlReport) {
	p, err := s.fetch.get(ctx, target)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}
	body := bytes.TrimSpace(p.Body)
	// Soft 404s commonly serve the HTML shell with a 200.
	if p.Status != http.StatusOK || len(body) == 0 || bytes.HasPrefix(bytes.ToLower(body), []byte("<!doctype")) ||
		bytes.HasPrefix(bytes.ToLower(body), []byte("<html")) {
		return
	}
	report.LLMsTxtFound = true
	report.LLMsTxtBytes = len(body)
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			report.LLMsTxtSections++
		}
	}
	report.LLMsTxtLinks = strings.Count(string(body), "](")
}
