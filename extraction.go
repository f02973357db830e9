package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"ingestion-engine/config"
)

// ErrInvalidDomain is returned when the extracted article's URL host
// does not match its source's canonical domain.
var ErrInvalidDomain = errors.New("extracted url host does not match source canonical domain")

// ErrExtractionFailed wraps HTTP or parser failures during article
// fetch.
var ErrExtractionFailed = errors.New("article extraction failed")

// ExtractionRequest is the compact novelty record pushed by a poller
// onto the extraction queue.
type ExtractionRequest struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
}

// ArticleExtractor fetches a URL and parses it with a newspaper-style
// extractor.
type ArticleExtractor struct {
	httpClient       *http.Client
	circuitBreaker   *CircuitBreaker
	metrics          *PrometheusMetrics
	fetchTimeout     time.Duration
	maxContentLength int
}

// NewArticleExtractor constructs an extractor.
func NewArticleExtractor(cfg config.ExtractionConfig, httpClient *http.Client, cb *CircuitBreaker, metrics *PrometheusMetrics) *ArticleExtractor {
	return &ArticleExtractor{
		httpClient:       httpClient,
		circuitBreaker:   cb,
		metrics:          metrics,
		fetchTimeout:     cfg.FetchTimeout,
		maxContentLength: cfg.MaxArticleContentLength,
	}
}

// Extract fetches articleURL and produces an Article. It returns
// ErrInvalidDomain when the resolved article URL's host differs from
// source's canonical domain.
func (x *ArticleExtractor) Extract(ctx context.Context, source *Source, articleURL string) (*Article, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, x.fetchTimeout)
	defer cancel()

	var article *Article
	err := x.circuitBreaker.Execute(func() error {
		a, ferr := x.doExtract(fetchCtx, source, articleURL)
		if ferr != nil {
			return ferr
		}
		article = a
		return nil
	}, x.metrics)
	if err != nil {
		return nil, err
	}

	return article, nil
}

func (x *ArticleExtractor) doExtract(ctx context.Context, source *Source, articleURL string) (*Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("User-Agent", "ingestion-engine/1.0")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrExtractionFailed, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, int64(x.maxContentLength)*4+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrExtractionFailed, err)
	}

	finalURL, err := url.Parse(articleURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrExtractionFailed, err)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	if source.CanonicalDomain != "" && !strings.EqualFold(finalURL.Hostname(), source.CanonicalDomain) {
		return nil, fmt.Errorf("%w: %s != %s", ErrInvalidDomain, finalURL.Hostname(), source.CanonicalDomain)
	}

	var art *Article
	if !source.Selectors.Empty() {
		art, err = x.extractWithSelectors(body, source)
	} else {
		art, err = x.extractWithReadability(body, finalURL)
	}
	if err != nil {
		return nil, err
	}

	art.URL = finalURL.String()
	art.Source = source.Name
	if len(art.Content) > x.maxContentLength {
		art.Content = art.Content[:x.maxContentLength]
	}

	return art, nil
}

// extractWithReadability is the primary path: a newspaper-style
// extractor applied uniformly, with no source-specific selector
// configuration required.
func (x *ArticleExtractor) extractWithReadability(body []byte, pageURL *url.URL) (*Article, error) {
	parsed, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: readability: %v", ErrExtractionFailed, err)
	}

	content := parsed.TextContent
	if content == "" {
		content = parsed.Content
	}
	if content == "" {
		return nil, fmt.Errorf("%w: no readable content found", ErrExtractionFailed)
	}

	art := NewArticle()
	art.Title = parsed.Title
	art.Summary = parsed.Excerpt
	art.Content = content
	if parsed.Byline != "" {
		art.Authors = []string{parsed.Byline}
	}
	if parsed.PublishedTime != nil {
		art.PublicationDate = parsed.PublishedTime
	}
	if parsed.Image != "" {
		art.Images = []string{parsed.Image}
	}
	return art, nil
}

// extractWithSelectors is the xpath-style selector path: present, but
// only engaged when a source actually populates Selectors.
func (x *ArticleExtractor) extractWithSelectors(body []byte, source *Source) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: goquery: %v", ErrExtractionFailed, err)
	}

	sel := source.Selectors
	art := NewArticle()
	art.Title = selectorText(doc, sel.Title)
	art.Summary = selectorText(doc, sel.Summary)
	art.Content = selectorText(doc, sel.Content)
	if author := selectorText(doc, sel.Author); author != "" {
		art.Authors = []string{author}
	}
	if tags := selectorText(doc, sel.Tags); tags != "" {
		art.Tags = splitSelectorList(tags)
	}
	if categories := selectorText(doc, sel.Categories); categories != "" {
		art.Categories = splitSelectorList(categories)
	}

	if art.Content == "" {
		art.Content = strings.TrimSpace(doc.Find("body").Text())
	}
	if art.Content == "" {
		return nil, fmt.Errorf("%w: no content matched selectors", ErrExtractionFailed)
	}

	return art, nil
}

func selectorText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func splitSelectorList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ExtractionDispatcher is the Extraction Worker Pool (C4). It owns the
// inbound pull endpoint and a fixed-size worker pool.
type ExtractionDispatcher struct {
	queue     chan ExtractionRequest
	workers   int
	sources   map[string]*Source
	extractor *ArticleExtractor
	publisher *Publisher
	tableSink *TableSink
	metrics   *PrometheusMetrics

	wg sync.WaitGroup
}

// NewExtractionDispatcher constructs the dispatcher. The queue's
// buffer size is the inbound endpoint's receive-high-water-mark.
func NewExtractionDispatcher(cfg config.ExtractionConfig, sources map[string]*Source, extractor *ArticleExtractor, publisher *Publisher, tableSink *TableSink, metrics *PrometheusMetrics) *ExtractionDispatcher {
	return &ExtractionDispatcher{
		queue:     make(chan ExtractionRequest, 100),
		workers:   cfg.Workers,
		sources:   sources,
		extractor: extractor,
		publisher: publisher,
		tableSink: tableSink,
		metrics:   metrics,
	}
}

// Queue returns the send side of the inbound endpoint, for binding
// into the extraction-push connection pool's handle factory.
func (d *ExtractionDispatcher) Queue() chan<- ExtractionRequest {
	return d.queue
}

// Start spawns the fixed worker pool.
func (d *ExtractionDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx)
		}()
	}
	log.Printf("extraction dispatcher started with %d workers", d.workers)
}

// Stop closes the inbound queue, signaling workers to drain whatever is
// already buffered and then exit, bounded by timeout. Callers must
// ensure nothing can still push onto Queue() once Stop is called.
func (d *ExtractionDispatcher) Stop(timeout time.Duration) {
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("extraction dispatcher: queue drained, all workers exited")
	case <-time.After(timeout):
		log.Println("extraction dispatcher: timed out waiting for workers to drain the queue")
	}
}

func (d *ExtractionDispatcher) worker(ctx context.Context) {
	for req := range d.queue {
		d.runJob(ctx, req)
	}
}

func (d *ExtractionDispatcher) runJob(ctx context.Context, req ExtractionRequest) {
	start := time.Now()

	source, ok := d.sources[req.SourceID]
	if !ok {
		log.Printf("extraction: unknown source id %q, discarding", req.SourceID)
		return
	}

	article, err := d.extractor.Extract(ctx, source, req.URL)
	if err != nil {
		if errors.Is(err, ErrInvalidDomain) {
			log.Printf("extraction: source %s: %v", req.SourceID, err)
			if d.metrics != nil {
				d.metrics.RecordExtraction(req.SourceID, "invalid_domain", time.Since(start))
			}
			return
		}
		log.Printf("extraction: source %s: url %s: %+v", req.SourceID, req.URL, err)
		if d.metrics != nil {
			d.metrics.RecordExtraction(req.SourceID, "error", time.Since(start))
		}
		return
	}

	record := article.Normalize()

	if !d.publisher.Publish(ctx, article.ID, record) {
		if err := d.tableSink.Write(ctx, record); err != nil {
			log.Printf("extraction: source %s: table sink write failed: %v", req.SourceID, err)
		}
	}

	if d.metrics != nil {
		d.metrics.RecordExtraction(req.SourceID, "success", time.Since(start))
	}
}
