package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDocSearcherDisabled(t *testing.T) {
	d := NewDocSearcher("")
	if d.Enabled() {
		t.Error("searcher with no endpoint should be disabled")
	}

	results, err := d.Search(context.Background(), "anything")
	if err != nil || results != nil {
		t.Errorf("disabled Search() = %v, %v; want nil, nil", results, err)
	}
	if got := d.ContextFor(context.Background(), []string{"q"}); got != "" {
		t.Errorf("disabled ContextFor() = %q, want empty", got)
	}
}

func TestDocSearcherSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "export api" {
			t.Errorf("query = %q, want %q", q, "export api")
		}
		fmt.Fprint(w, `[{"title": "Export API", "path": "guides/export", "snippet": "How to export data"}]`)
	}))
	defer server.Close()

	d := NewDocSearcher(server.URL)
	results, err := d.Search(context.Background(), "export api")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "guides/export" {
		t.Errorf("results = %+v", results)
	}
}

func TestDocSearcherSearchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewDocSearcher(server.URL)
	_, err := d.Search(context.Background(), "q")
	if err == nil {
		t.Fatal("Search() should fail on HTTP 503")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error = %T, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", httpErr.StatusCode)
	}
}

func TestDocSearcherPageMarkdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Export API</h1><p>Use the <strong>export</strong> endpoint.</p></body></html>`)
	}))
	defer server.Close()

	d := NewDocSearcher(server.URL)
	markdown, err := d.PageMarkdown(context.Background(), server.URL+"/guides/export")
	if err != nil {
		t.Fatalf("PageMarkdown() error: %v", err)
	}
	if !strings.Contains(markdown, "# Export API") {
		t.Errorf("heading not converted:\n%s", markdown)
	}
	if !strings.Contains(markdown, "**export**") {
		t.Errorf("bold not converted:\n%s", markdown)
	}
}

func TestContextForDeduplicatesAndDegrades(t *testing.T) {
	var searches int
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		searches++
		if searches == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[{"title": "Export API", "path": "guides/export", "snippet": "..."}]`)
	})
	mux.HandleFunc("/guides/export", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Export API</h1></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	d := NewDocSearcher(server.URL)
	got := d.ContextFor(context.Background(), []string{"first", "failing", "third"})

	if searches != 3 {
		t.Errorf("made %d search calls, want 3", searches)
	}
	// The same page from two successful queries gets one listing line and
	// one excerpt.
	if strings.Count(got, "- Export API (guides/export)") != 1 {
		t.Errorf("duplicate pages in context:\n%s", got)
	}
	if strings.Count(got, "Excerpt of guides/export:") != 1 {
		t.Errorf("want exactly one page excerpt:\n%s", got)
	}
	if !strings.HasPrefix(got, "Related documentation pages:") {
		t.Errorf("context block = %q", got)
	}
}

func TestContextForIncludesPageExcerpts(t *testing.T) {
	var pageFetches int
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		fmt.Fprintf(w, `[{"title": "Page %s", "path": "guides/%s", "snippet": "about %s"}]`, q, q, q)
	})
	mux.HandleFunc("/guides/", func(w http.ResponseWriter, r *http.Request) {
		pageFetches++
		fmt.Fprintf(w, `<html><body><h1>Guide</h1><p>Details for %s.</p></body></html>`, r.URL.Path)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	d := NewDocSearcher(server.URL)
	got := d.ContextFor(context.Background(), []string{"a", "b", "c", "d", "e"})

	if !strings.Contains(got, "# Guide") {
		t.Errorf("context has no converted page markdown:\n%s", got)
	}
	// Full pages are capped; the remaining hits keep their snippet lines.
	if pageFetches != maxContextPages {
		t.Errorf("fetched %d pages, want %d", pageFetches, maxContextPages)
	}
	for _, q := range []string{"a", "b", "c", "d", "e"} {
		if !strings.Contains(got, "guides/"+q) {
			t.Errorf("context missing the hit for query %q:\n%s", q, got)
		}
	}
}
