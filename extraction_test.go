package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"ingestion-engine/config"
)

func testExtractionConfig() config.ExtractionConfig {
	return config.ExtractionConfig{
		Workers:                 2,
		FetchTimeout:            2 * time.Second,
		MaxArticleContentLength: 20000,
	}
}

func newTestExtractor() *ArticleExtractor {
	cbm := NewCircuitBreakerManager()
	cb := cbm.GetOrCreateBreaker("extraction-test", nil)
	return NewArticleExtractor(testExtractionConfig(), &http.Client{}, cb, nil)
}

const samplePageHTML = `<!DOCTYPE html>
<html><head><title>Sample Headline</title></head>
<body><article><h1>Sample Headline</h1>
<p>This is the first paragraph of a long enough article body to be
recognized as the main content by a readability-style extractor. It
needs a reasonable amount of text to clear the extractor's heuristics
for what counts as a real article versus boilerplate chrome.</p>
<p>And a second paragraph continuing the story with more detail about
what happened, who was involved, and why it matters to readers.</p>
</article></body></html>`

// TestExtractDiscardsOnCanonicalDomainMismatch grounds the domain
// mismatch scenario: when the resolved article host differs from the
// source's configured canonical domain, extraction must fail with
// ErrInvalidDomain and produce no article.
func TestExtractDiscardsOnCanonicalDomainMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePageHTML))
	}))
	defer server.Close()

	extractor := newTestExtractor()
	source := &Source{ID: "s1", Name: "Example", CanonicalDomain: "totally-different.example"}

	art, err := extractor.Extract(context.Background(), source, server.URL)
	if art != nil {
		t.Fatalf("expected no article on domain mismatch, got %+v", art)
	}
	if err == nil {
		t.Fatal("expected an error on domain mismatch")
	}
	if !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("expected ErrInvalidDomain, got %v", err)
	}
}

func TestExtractSucceedsWithReadabilityWhenDomainMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePageHTML))
	}))
	defer server.Close()

	serverURL, _ := url.Parse(server.URL)

	extractor := newTestExtractor()
	source := &Source{ID: "s1", Name: "Example", CanonicalDomain: serverURL.Hostname()}

	art, err := extractor.Extract(context.Background(), source, server.URL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if art == nil {
		t.Fatal("expected an article")
	}
	if art.Title == "" {
		t.Fatal("expected a non-empty title")
	}
	if art.Source != source.Name {
		t.Fatalf("art.Source = %q, want %q", art.Source, source.Name)
	}
}

func TestExtractUsesSelectorsWhenConfigured(t *testing.T) {
	page := `<html><body>
		<h1 class="hl">Selector Headline</h1>
		<div class="body"><p>Selector-driven body text.</p></div>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	serverURL, _ := url.Parse(server.URL)

	extractor := newTestExtractor()
	source := &Source{
		ID:              "s1",
		Name:            "Example",
		CanonicalDomain: serverURL.Hostname(),
		Selectors: Selectors{
			Title:   ".hl",
			Content: ".body",
		},
	}

	art, err := extractor.Extract(context.Background(), source, server.URL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if art.Title != "Selector Headline" {
		t.Fatalf("art.Title = %q, want %q", art.Title, "Selector Headline")
	}
}
