package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"ingestion-engine/config"
)

func TestStableFingerprintIsDeterministic(t *testing.T) {
	item := &gofeed.Item{Link: "http://a", Title: "T", Description: "D", Published: "P", Updated: "U"}

	a := stableFingerprint(item)
	b := stableFingerprint(item)
	if a != b {
		t.Fatalf("fingerprint is not stable across calls: %q != %q", a, b)
	}
}

func TestStableFingerprintDiffersOnContentChange(t *testing.T) {
	item1 := &gofeed.Item{Link: "http://a", Title: "T1"}
	item2 := &gofeed.Item{Link: "http://a", Title: "T2"}

	if stableFingerprint(item1) == stableFingerprint(item2) {
		t.Fatal("expected different fingerprints for different titles")
	}
}

func TestFeedTTLMinutesParsesCustomField(t *testing.T) {
	feed := &gofeed.Feed{Custom: map[string]string{"ttl": "15"}}
	minutes, ok := feedTTLMinutes(feed)
	if !ok || minutes != 15 {
		t.Fatalf("feedTTLMinutes = (%d, %v), want (15, true)", minutes, ok)
	}
}

func TestFeedTTLMinutesMissingField(t *testing.T) {
	feed := &gofeed.Feed{}
	if _, ok := feedTTLMinutes(feed); ok {
		t.Fatal("expected no ttl when Custom is nil")
	}
}

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Sample Feed</title>
<ttl>15</ttl>
<item>
<title>First Item</title>
<link>http://example.com/first</link>
<description>First item body</description>
</item>
</channel></rss>`

// TestGetFeedMarksNoveltyOnFirstObservationOnly grounds testable
// property 1: a fingerprint is novel exactly once per TTL window.
func TestGetFeedMarksNoveltyOnFirstObservationOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	cacheCfg := config.CacheConfig{TTL: time.Hour, Capacity: 100, RequestTimeout: time.Second}
	cache := NewDedupCache(cacheCfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)

	crh := &cacheRequestHandle{cache: cache, timeout: time.Second}

	source := &Source{ID: "s1", Name: "Sample", RSSURL: server.URL}
	cbm := NewCircuitBreakerManager()
	cb := cbm.GetOrCreateBreaker("feed-test", nil)
	reader := NewFeedReader(source, 0, 2*time.Second, time.Second, &http.Client{}, cb, nil)

	snapshot, err := reader.GetFeed(ctx, crh)
	if err != nil {
		t.Fatalf("first GetFeed: %v", err)
	}
	if !snapshot.HasNewSinceLastRead {
		t.Fatal("expected novelty on first observation")
	}

	// Force a refetch by resetting the reader's last-refresh guard: a
	// second read of the same entry within the cache TTL must not be
	// novel again.
	reader.state.LastRefreshAt = time.Time{}
	snapshot2, err := reader.GetFeed(ctx, crh)
	if err != nil {
		t.Fatalf("second GetFeed: %v", err)
	}
	if snapshot2.HasNewSinceLastRead {
		t.Fatal("expected no novelty on repeated observation of the same entry within TTL")
	}
}

func TestGetFeedDoesNotRefetchBeforeMinRefreshInterval(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	cacheCfg := config.CacheConfig{TTL: time.Hour, Capacity: 100, RequestTimeout: time.Second}
	cache := NewDedupCache(cacheCfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)

	crh := &cacheRequestHandle{cache: cache, timeout: time.Second}
	source := &Source{ID: "s1", Name: "Sample", RSSURL: server.URL}
	cbm := NewCircuitBreakerManager()
	cb := cbm.GetOrCreateBreaker("feed-test-2", nil)
	reader := NewFeedReader(source, time.Hour, 2*time.Second, time.Second, &http.Client{}, cb, nil)

	if _, err := reader.GetFeed(ctx, crh); err != nil {
		t.Fatalf("first GetFeed: %v", err)
	}
	if _, err := reader.GetFeed(ctx, crh); err != nil {
		t.Fatalf("second GetFeed: %v", err)
	}

	if requests != 1 {
		t.Fatalf("expected exactly one HTTP fetch within min_refresh_interval, got %d", requests)
	}
}

func TestFetchFeedRejectsEmptyFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Empty</title></channel></rss>`))
	}))
	defer server.Close()

	cacheCfg := config.CacheConfig{TTL: time.Hour, Capacity: 100, RequestTimeout: time.Second}
	cache := NewDedupCache(cacheCfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)

	crh := &cacheRequestHandle{cache: cache, timeout: time.Second}
	source := &Source{ID: "s1", Name: "Empty", RSSURL: server.URL}
	cbm := NewCircuitBreakerManager()
	cb := cbm.GetOrCreateBreaker("feed-test-3", nil)
	reader := NewFeedReader(source, 0, 2*time.Second, time.Second, &http.Client{}, cb, nil)

	if _, err := reader.GetFeed(ctx, crh); err == nil {
		t.Fatal("expected an error for a feed with no entries")
	}
}
