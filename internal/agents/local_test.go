package agents

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/domain"
)

const robotsBody = `User-agent: GPTBot
Disallow: /

User-agent: CCBot
Disallow: /

User-agent: *
Allow: /

Sitemap: https://example.test/sitemap.xml
`

const llmsBody = `# Example Co
> Outdoor gear.

## Products
- [Tents](https://example.test/tents)
- [Packs](https://example.test/packs)
`

const homeBody = `<!doctype html>
<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","name":"Example"}</script>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[{"@type":"WebSite"},{"@type":["Product","Thing"],"offers":{"@type":"Offer"}}]}
</script>
<script type="application/ld+json">{not json</script>
<script>var x = 1;</script>
</head><body>hi</body></html>`

func newSite(t *testing.T, robots, llms string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		if robots == "" {
			http.NotFound(w, nil)
			return
		}
		fmt.Fprint(w, robots)
	})
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, _ *http.Request) {
		if llms == "" {
			http.NotFound(w, nil)
			return
		}
		fmt.Fprint(w, llms)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, homeBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSiteCrawl(t *testing.T) {
	srv := newSite(t, robotsBody, llmsBody)
	agent := NewLocalAgents(srv.Client())[SiteCrawl]

	res, err := agent.Run(context.Background(), Input{
		EvaluationID: "eval-1",
		Brand:        domain.Brand{ID: "b1", WebsiteURL: srv.URL},
	})
	require.NoError(t, err)

	report, ok := res.(CrawlReport)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, report.HomepageStatus)
	assert.True(t, report.RobotsFound)
	assert.False(t, report.Bots["GPTBot"])
	assert.False(t, report.Bots["CCBot"])
	assert.True(t, report.Bots["ClaudeBot"])
	assert.Equal(t, len(AIBots)-2, report.AllowedBots())
	assert.Equal(t, []string{"https://example.test/sitemap.xml"}, report.Sitemaps)
	assert.True(t, report.LLMsTxtFound)
	assert.Equal(t, 2, report.LLMsTxtSections)
	assert.Equal(t, 2, report.LLMsTxtLinks)
	assert.Empty(t, report.Errors)
}

func TestSiteCrawl_MissingFiles(t *testing.T) {
	srv := newSite(t, "", "")
	res, err := NewLocalAgents(srv.Client())[SiteCrawl].Run(context.Background(), Input{
		Brand: domain.Brand{ID: "b1", WebsiteURL: srv.URL},
	})
	require.NoError(t, err)

	report := res.(CrawlReport)
	assert.False(t, report.RobotsFound)
	assert.Equal(t, len(AIBots), report.AllowedBots())
	assert.False(t, report.LLMsTxtFound)
}

func TestSiteCrawl_InvalidURL(t *testing.T) {
	_, err := NewLocalAgents(nil)[SiteCrawl].Run(context.Background(), Input{
		Brand: domain.Brand{ID: "b1", WebsiteURL: "not a url"},
	})
	require.Error(t, err)
}

func TestStructuredData(t *testing.T) {
	srv := newSite(t, robotsBody, llmsBody)
	agent := NewLocalAgents(srv.Client())[StructuredData]

	res, err := agent.Run(context.Background(), Input{
		Brand: domain.Brand{ID: "b1", WebsiteURL: "http://unused.invalid"},
		Prior: map[string]Result{SiteCrawl: CrawlReport{HomepageURL: srv.URL + "/"}},
	})
	require.NoError(t, err)

	report, ok := res.(StructuredDataReport)
	require.True(t, ok)
	assert.Equal(t, 2, report.JSONLDBlocks)
	assert.Equal(t, 1, report.InvalidBlocks)
	assert.Equal(t, []string{"Offer", "Organization", "Product", "Thing", "WebSite"}, report.Types)
	assert.True(t, report.HasType("Product"))
	assert.False(t, report.HasType("FAQPage"))
}

func TestStructuredData_HomepageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewLocalAgents(srv.Client())[StructuredData].Run(context.Background(), Input{
		Brand: domain.Brand{ID: "b1", WebsiteURL: srv.URL},
	})
	require.Error(t, err)
}
