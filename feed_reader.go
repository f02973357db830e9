package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// ErrInvalidFeedXML is returned when the feed is not served with HTTP
// 200, fails to parse as RSS/Atom, or has no entries.
var ErrInvalidFeedXML = errors.New("invalid feed xml")

// feedTimestampLayouts are the textual formats feed timestamp fields
// are tried against, in order.
var feedTimestampLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 MST",
}

// FeedState is the per-source mutable state owned exclusively by the
// poller driving this FeedReader: only one goroutine (the owning
// poller) ever calls FeedReader methods for a given source, so no
// locking is needed here.
type FeedState struct {
	LastRefreshAt        time.Time
	LastUpdatedAt        *time.Time
	LastEntryFingerprint string
	HasNewSinceLastRead  bool
}

// FeedSnapshot is the externally visible result of FeedReader.GetFeed.
type FeedSnapshot struct {
	Source              *Source
	LastUpdatedAt        *time.Time
	LastRefreshAt        time.Time
	Feed                 *gofeed.Feed
	HasNewSinceLastRead  bool
}

// FeedReader owns the fetch/parse/novelty logic for one source. It
// does not own the cache-service handle: callers supply one per call,
// which avoids a FeedReader-to-Engine back-reference.
type FeedReader struct {
	source             *Source
	state              FeedState
	minRefreshInterval time.Duration
	fetchTimeout       time.Duration
	cacheTimeout       time.Duration

	httpClient     *http.Client
	parser         *gofeed.Parser
	circuitBreaker *CircuitBreaker
	metrics        *PrometheusMetrics

	// lastFeed is the most recently parsed feed document, kept
	// separately from FeedState which holds only the scalars derived
	// from it.
	lastFeed *gofeed.Feed
}

// NewFeedReader constructs a reader for source.
func NewFeedReader(source *Source, minRefreshInterval time.Duration, fetchTimeout, cacheTimeout time.Duration, httpClient *http.Client, cb *CircuitBreaker, metrics *PrometheusMetrics) *FeedReader {
	return &FeedReader{
		source:             source,
		minRefreshInterval: minRefreshInterval,
		fetchTimeout:       fetchTimeout,
		cacheTimeout:       cacheTimeout,
		httpClient:         httpClient,
		parser:             gofeed.NewParser(),
		circuitBreaker:     cb,
		metrics:            metrics,
	}
}

// GetFeed returns a snapshot of the source's feed, refetching first if
// the last refresh is older than minRefreshInterval (or has never
// happened). HasNewSinceLastRead is cleared as a side effect of this
// read.
func (r *FeedReader) GetFeed(ctx context.Context, cache *cacheRequestHandle) (*FeedSnapshot, error) {
	boundary := time.Now().Add(-r.minRefreshInterval)
	if r.state.LastRefreshAt.IsZero() || r.state.LastRefreshAt.Before(boundary) {
		if err := r.fetchFeed(ctx, cache); err != nil {
			return nil, err
		}
	}

	snapshot := &FeedSnapshot{
		Source:              r.source,
		LastUpdatedAt:        r.state.LastUpdatedAt,
		LastRefreshAt:        r.state.LastRefreshAt,
		Feed:                 r.lastFeed,
		HasNewSinceLastRead:  r.state.HasNewSinceLastRead,
	}
	r.state.HasNewSinceLastRead = false
	return snapshot, nil
}

func (r *FeedReader) fetchFeed(ctx context.Context, cache *cacheRequestHandle) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	var feed *gofeed.Feed
	err := r.circuitBreaker.Execute(func() error {
		f, ferr := r.doFetch(fetchCtx)
		if ferr != nil {
			return ferr
		}
		feed = f
		return nil
	}, r.metrics)
	if err != nil {
		return err
	}

	if len(feed.Items) == 0 {
		return fmt.Errorf("%w: (%s, %s): no entries", ErrInvalidFeedXML, r.source.ID, r.source.Name)
	}

	fingerprint := stableFingerprint(feed.Items[0])

	value, found, err := cache.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	_ = value

	if !found && fingerprint != r.state.LastEntryFingerprint {
		r.state.HasNewSinceLastRead = true
		r.state.LastEntryFingerprint = fingerprint
		if err := cache.Set(ctx, fingerprint, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("cache set: %w", err)
		}
	}

	r.state.LastRefreshAt = time.Now()
	r.lastFeed = feed
	r.updateFeedUpdateTime(feed)

	return nil
}

func (r *FeedReader) doFetch(ctx context.Context) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.source.RSSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "ingestion-engine/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrInvalidFeedXML, resp.StatusCode)
	}

	feed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeedXML, err)
	}

	return feed, nil
}

// updateFeedUpdateTime resolves the feed's update timestamp: the first
// field present, in priority order, is tried against both layouts; an
// unparseable value leaves last_updated_at unchanged.
func (r *FeedReader) updateFeedUpdateTime(feed *gofeed.Feed) {
	candidate := ""
	switch {
	case feed.Published != "":
		candidate = feed.Published
	case feed.Updated != "":
		candidate = feed.Updated
	case len(feed.Items) > 0 && feed.Items[0].Published != "":
		candidate = feed.Items[0].Published
	case len(feed.Items) > 0 && feed.Items[0].Updated != "":
		candidate = feed.Items[0].Updated
	default:
		return
	}

	for _, layout := range feedTimestampLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			if r.state.LastUpdatedAt == nil || !r.state.LastUpdatedAt.Equal(t) {
				r.state.LastUpdatedAt = &t
			}
			return
		}
	}
}

// fingerprintEntry is the observable-field subset serialized for the
// stable fingerprint: sorted-key JSON encoding, stable across
// processes.
type fingerprintEntry struct {
	Link      string `json:"link"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Published string `json:"published"`
	Updated   string `json:"updated"`
}

// feedTTLMinutes extracts the feed's own ttl hint (minutes) when
// present. gofeed does not promote the RSS <ttl> element to a named
// field on the universal Feed type; it surfaces through the Custom
// map alongside other unrecognized child elements.
func feedTTLMinutes(feed *gofeed.Feed) (int, bool) {
	if feed == nil || feed.Custom == nil {
		return 0, false
	}
	raw, ok := feed.Custom["ttl"]
	if !ok || raw == "" {
		return 0, false
	}
	var minutes int
	if _, err := fmt.Sscanf(raw, "%d", &minutes); err != nil || minutes <= 0 {
		return 0, false
	}
	return minutes, true
}

// stableFingerprint hashes the observable fields of a feed entry to a
// hex digest stable across process restarts.
func stableFingerprint(item *gofeed.Item) string {
	entry := fingerprintEntry{
		Link:      item.Link,
		Title:     item.Title,
		Summary:   item.Description,
		Published: item.Published,
		Updated:   item.Updated,
	}
	b, _ := json.Marshal(entry) // struct field order is stable and fixed
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
