package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type structuredDataScanner struct {
	fetch *fetcher
}

func (s *structuredDataScanner) Name() string { return StructuredData }

// Run scans the homepage resolved by site_crawl for JSON-LD blocks and
// collects the schema.org types they declare.
func (s *structuredDataScanner) Run(ctx context.Context, in Input) (Result, error) {
	target := in.Brand.WebsiteURL
	if crawl, ok := in.Prior[SiteCrawl].(CrawlReport); ok && crawl.HomepageURL != "" {
		target = crawl.HomepageURL
	}

	p, err := s.fetch.get(ctx, target)
	if err != nil {
		return nil, err
	}
	if p.Status >= 400 {
		return nil, fmt.Errorf("homepage returned status %d", p.Status)
	}

	blocks, err := extractJSONLD(p.Body)
	if err != nil {
		return nil, fmt.Errorf("parse homepage html: %w", err)
	}

	report := StructuredDataReport{PagesScanned: []string{p.URL}, Types: []string{}}
	seen := make(map[string]bool)
	for _, b := range blocks {
		var doc any
		if err := json.Unmarshal([]byte(b), &doc); err != nil {
			report.InvalidBlocks++
			continue
		}
		report.JSONLDBlocks++
		collectTypes(doc, seen)
	}
	for t := range seen {
		report.Types = append(report.Types, t)
	}
	slices.Sort(report.Types)

	slog.Default().With("component", "structured_data", "evaluation_id", in.EvaluationID).
		Info("structured data scanned", "blocks", report.JSONLDBlocks, "invalid", report.InvalidBlocks, "types", len(report.Types))
	return report, nil
}

// extractJSONLD returns the text of every <script type="application/ld+json">.
func extractJSONLD(body []byte) ([]string, error) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var (
		blocks   []string
		inJSONLD bool
		buf      strings.Builder
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return blocks, nil
			}
			return blocks, z.Err()
		case html.StartTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script && isJSONLD(tok) {
				inJSONLD = true
				buf.Reset()
			}
		case html.TextToken:
			if inJSONLD {
				buf.Write(z.Text())
			}
		case html.EndTagToken:
			if inJSONLD {
				if name, _ := z.TagName(); string(name) == "script" {
					inJSONLD = false
					if text := strings.TrimSpace(buf.String()); text != "" {
						blocks = append(blocks, text)
					}
				}
			}
		}
	}
}

func isJSONLD(tok html.Token) bool {
	for _, a := range tok.Attr {
		if a.Key == "type" && strings.EqualFold(strings.TrimSpace(a.Val), "application/ld+json") {
			return true
		}
	}
	return false
}

// collectTypes walks a JSON-LD document, including @graph arrays and nested
// entities, recording every @type.
func collectTypes(v any, seen map[string]bool) {
	switch node := v.(type) {
	case map[string]any:
		switch t := node["@type"].(type) {
		case string:
			seen[t] = true
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					seen[s] = true
				}
			}
		}
		for k, child := range node {
			if k == "@type" || k == "@context" {
				continue
			}
			collectTypes(child, seen)
		}
	case []any:
		for _, item := range node {
			collectTypes(item, seen)
		}
	}
}
