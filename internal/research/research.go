// Package research gathers short web snippets about a project's technology
// surface. It is best-effort: every failure is a soft error and the pipeline
// proceeds without the snippets.
package research

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/martin/scope-generator/internal/fetch"
	"github.com/martin/scope-generator/internal/ingestion"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/types"
)

// maxResultsPerQuery bounds how many search hits one query contributes.
const maxResultsPerQuery = 3

// maxSnippetChars bounds how much fetched page text one snippet carries.
const maxSnippetChars = 1200

// Snippet is one fetched and trimmed piece of supporting web content.
type Snippet struct {
	Query string `json:"query"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Researcher runs bounded Custom Search queries and fetches the top hits.
type Researcher struct {
	svc     *customsearch.Service
	cx      string
	fetcher *fetch.CachedFetcher
	log     *logger.Logger
}

// NewResearcher creates a new Researcher instance.
func NewResearcher(ctx context.Context, apiKey, cx string, log *logger.Logger) (*Researcher, error) {
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &Researcher{
		svc: svc,
		cx:  cx,
		// Search hits are often JavaScript-heavy docs portals, so thin
		// pages escalate to a headless render.
		fetcher: fetch.NewCachedFetcher(&fetch.CachedFetcherConfig{BrowserFallback: true}),
		log:     log,
	}, nil
}

// GatherSnippets runs at most the mode's query budget against the search
// service and returns trimmed page snippets. Failed queries and fetches are
// logged and skipped.
func (r *Researcher) GatherSnippets(ctx context.Context, pack *types.ContextPack, mode types.ResearchMode) []Snippet {
	budget := mode.QueryBudget()
	if budget == 0 {
		return nil
	}

	queries := BuildQueries(pack)
	if len(queries) > budget {
		queries = queries[:budget]
	}

	var snippets []Snippet
	seen := make(map[string]bool)
	for _, q := range queries {
		resp, err := r.svc.Cse.List().Context(ctx).Cx(r.cx).Q(q).Num(maxResultsPerQuery).Do()
		if err != nil {
			r.log.Warn("search query failed, skipping", "query", q, "error", err)
			continue
		}

		for _, item := range resp.Items {
			if seen[item.Link] {
				continue
			}
			seen[item.Link] = true

			text, err := r.fetchText(ctx, item.Link)
			if err != nil {
				r.log.Warn("snippet fetch failed, skipping", "url", item.Link, "error", err)
				continue
			}
			snippets = append(snippets, Snippet{
				Query: q,
				URL:   item.Link,
				Title: item.Title,
				Text:  text,
			})
		}
	}

	return snippets
}

func (r *Researcher) fetchText(ctx context.Context, urlStr string) (string, error) {
	result, err := r.fetcher.Fetch(ctx, urlStr)
	if err != nil {
		return "", err
	}

	text, err := fetch.ExtractMainText(result.HTML, fetch.DefaultTextSelectors())
	if err != nil {
		return "", err
	}

	text = ingestion.CleanText(text)
	if len(text) > maxSnippetChars {
		text = text[:maxSnippetChars]
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no extractable text at %s", urlStr)
	}
	return text, nil
}

// FormatSnippetBlock renders gathered snippets into a prompt block. Empty
// input yields an empty string so the prompt omits the section entirely.
func FormatSnippetBlock(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Supporting research snippets:\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "\n--- %s (%s) ---\n%s\n", s.Title, s.URL, s.Text)
	}
	return strings.TrimSpace(b.String())
}
