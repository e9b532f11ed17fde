package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/chainguard-dev/clog"
)

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// DocSearchResult is one hit from the documentation search endpoint.
type DocSearchResult struct {
	Title   string `json:"title"`
	Path    string `json:"path"`
	Snippet string `json:"snippet"`
}

// DocSearcher queries the documentation site so agents can link related
// pages from changelog entries. The searcher is disabled when no endpoint
// is configured and every method then reports no results.
type DocSearcher struct {
	baseURL   string
	client    *http.Client
	converter *md.Converter
}

// NewDocSearcher returns a searcher for the given endpoint. An empty
// baseURL yields a disabled searcher.
func NewDocSearcher(baseURL string) *DocSearcher {
	return &DocSearcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		converter: md.NewConverter("", true, nil),
	}
}

// Enabled reports whether a search endpoint is configured.
func (d *DocSearcher) Enabled() bool {
	return d.baseURL != ""
}

// Search queries the documentation index.
func (d *DocSearcher) Search(ctx context.Context, query string) ([]DocSearchResult, error) {
	if !d.Enabled() {
		return nil, nil
	}

	searchURL := d.baseURL + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching docs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: searchURL}
	}

	var results []DocSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return results, nil
}

// PageMarkdown fetches a documentation page and converts it to markdown
// for agent context.
func (d *DocSearcher) PageMarkdown(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building page request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, URL: pageURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading page body: %w", err)
	}

	markdown, err := d.converter.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("converting page to markdown: %w", err)
	}
	return markdown, nil
}

const (
	// maxContextPages caps the full-page fetches per run; every hit beyond
	// that contributes its search snippet only.
	maxContextPages  = 3
	maxExcerptLength = 2000
)

// ContextFor searches the docs for each query and assembles a context block
// for the writer agent: one line per hit, plus a markdown excerpt of the top
// page per query. Failures degrade to whatever was gathered.
func (d *DocSearcher) ContextFor(ctx context.Context, queries []string) string {
	if !d.Enabled() {
		return ""
	}
	log := clog.FromContext(ctx)

	var b strings.Builder
	seen := make(map[string]bool)
	pagesFetched := 0
	for _, query := range queries {
		results, err := d.Search(ctx, query)
		if err != nil {
			log.With("query", query).Warnf("docs search failed: %v", err)
			continue
		}
		for i, r := range results {
			if seen[r.Path] {
				continue
			}
			seen[r.Path] = true
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.Path, r.Snippet)

			if i > 0 || pagesFetched >= maxContextPages {
				continue
			}
			markdown, err := d.PageMarkdown(ctx, d.baseURL+"/"+strings.TrimLeft(r.Path, "/"))
			if err != nil {
				log.With("path", r.Path).Warnf("fetching page excerpt: %v", err)
				continue
			}
			pagesFetched++
			fmt.Fprintf(&b, "\n  Excerpt of %s:\n%s\n\n", r.Path, excerpt(markdown, maxExcerptLength))
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "Related documentation pages:\n" + b.String()
}

func excerpt(markdown string, maxChars int) string {
	markdown = strings.TrimSpace(markdown)
	if len(markdown) <= maxChars {
		return markdown
	}
	return markdown[:maxChars] + "..."
}
