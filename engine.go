package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"ingestion-engine/config"
)

// PollerHandle tracks one source's long-lived poller task in the
// process-wide registry.
type PollerHandle struct {
	Source *Source
	Reader *FeedReader
	cancel context.CancelFunc
}

// Engine is the Feed Scheduler (C3). It owns the lifecycle of
// per-source pollers and drives them on an adaptive cadence.
type Engine struct {
	cfg     config.EngineConfig
	sources map[string]*Source

	cache       *DedupCache
	cacheTimeout time.Duration
	cachePool   *ConnectionPool
	pushPool    *ConnectionPool

	notifier EventNotifier
	metrics  *PrometheusMetrics
	breakers *CircuitBreakerManager
	httpClient *http.Client

	mu       sync.Mutex
	pollers  map[string]*PollerHandle
	wg       sync.WaitGroup
}

// NewEngine constructs the engine. cachePool and pushPool must already
// be wired to the dedup cache service and the extraction dispatcher's
// inbound queue respectively.
func NewEngine(cfg config.EngineConfig, sources map[string]*Source, cache *DedupCache, cacheTimeout time.Duration, cachePool, pushPool *ConnectionPool, notifier EventNotifier, metrics *PrometheusMetrics, breakers *CircuitBreakerManager, httpClient *http.Client) *Engine {
	return &Engine{
		cfg:          cfg,
		sources:      sources,
		cache:        cache,
		cacheTimeout: cacheTimeout,
		cachePool:    cachePool,
		pushPool:     pushPool,
		notifier:     notifier,
		metrics:      metrics,
		breakers:     breakers,
		httpClient:   httpClient,
		pollers:      make(map[string]*PollerHandle),
	}
}

// Start spawns one cooperative poller goroutine per configured source.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, source := range e.sources {
		pollerCtx, cancel := context.WithCancel(ctx)
		cb := e.breakers.GetOrCreateBreaker("feed_fetch_"+source.ID, nil)
		reader := NewFeedReader(source, e.cfg.MinRefreshInterval, 15*time.Second, e.cacheTimeout, e.httpClient, cb, e.metrics)

		handle := &PollerHandle{Source: source, Reader: reader, cancel: cancel}
		e.pollers[source.ID] = handle

		e.wg.Add(1)
		go func(h *PollerHandle) {
			defer e.wg.Done()
			e.runPoller(pollerCtx, h)
		}(handle)
	}

	log.Printf("engine started %d pollers", len(e.sources))
}

// Stop cancels every poller and waits for them to exit, bounded by
// timeout.
func (e *Engine) Stop(timeout time.Duration) {
	e.mu.Lock()
	for _, h := range e.pollers {
		h.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("engine: all pollers exited")
	case <-time.After(timeout):
		log.Println("engine: timed out waiting for pollers to exit")
	}
}

// poolExhaustionMaxRefreshInterval bounds the backoff applied after a
// pool-exhaustion cycle error, distinct from and tighter than
// cfg.MaxRefreshInterval, which bounds backoff after other cycle
// errors.
const poolExhaustionMaxRefreshInterval = 300 * time.Second

func (e *Engine) runPoller(ctx context.Context, h *PollerHandle) {
	refreshTime := e.cfg.MinRefreshInterval

	for {
		if ctx.Err() != nil {
			return
		}

		nextRefresh, cycleErr := e.runCycle(ctx, h, refreshTime)

		switch {
		case cycleErr == ErrPoolExhausted:
			refreshTime = capDuration(time.Duration(float64(refreshTime)*1.5), poolExhaustionMaxRefreshInterval)
		case cycleErr != nil:
			refreshTime = capDuration(refreshTime*2, e.cfg.MaxRefreshInterval)
		default:
			refreshTime = nextRefresh
		}

		jitter := time.Duration(rand.Float64() * float64(refreshTime) * e.cfg.JitterFraction)
		sleepFor := refreshTime + jitter
		if sleepFor < 10*time.Second {
			sleepFor = 10 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}
	}
}

// runCycle runs one poll cycle for source h, returning the adapted
// refresh interval (valid only when err is nil).
func (e *Engine) runCycle(ctx context.Context, h *PollerHandle, currentRefresh time.Duration) (time.Duration, error) {
	start := time.Now()

	cacheWaitStart := time.Now()
	cacheHandle, err := e.cachePool.Get(ctx, "cache-request")
	if e.metrics != nil {
		e.metrics.RecordPoolAcquireWait("cache-request", time.Since(cacheWaitStart))
	}
	if err != nil {
		log.Printf("engine: source %s: cache pool: %v", h.Source.ID, err)
		if err == ErrPoolExhausted && e.metrics != nil {
			e.metrics.RecordPoolExhausted("cache-request")
		}
		e.recordCycleOutcome(h.Source.ID, "cache_pool_error", start)
		return currentRefresh, err
	}
	defer e.cachePool.Return(cacheHandle)

	pushWaitStart := time.Now()
	pushHandle, err := e.pushPool.Get(ctx, "extraction-push")
	if e.metrics != nil {
		e.metrics.RecordPoolAcquireWait("extraction-push", time.Since(pushWaitStart))
	}
	if err != nil {
		log.Printf("engine: source %s: push pool: %v", h.Source.ID, err)
		if err == ErrPoolExhausted && e.metrics != nil {
			e.metrics.RecordPoolExhausted("extraction-push")
		}
		e.recordCycleOutcome(h.Source.ID, "push_pool_error", start)
		return currentRefresh, err
	}
	defer e.pushPool.Return(pushHandle)

	crh := cacheHandle.(*cacheRequestHandle)
	eph := pushHandle.(*extractionPushHandle)

	snapshot, err := h.Reader.GetFeed(ctx, crh)
	if err != nil {
		log.Printf("engine: source %s: feed fetch: %v", h.Source.ID, err)
		if e.metrics != nil {
			e.metrics.RecordPollCycleError(h.Source.ID, "feed_fetch")
		}
		e.recordCycleOutcome(h.Source.ID, "feed_fetch_error", start)
		return currentRefresh, err
	}

	refreshTime := e.adaptInterval(snapshot, currentRefresh)
	if e.metrics != nil {
		e.metrics.UpdatePollerInterval(h.Source.ID, refreshTime)
	}

	if snapshot.HasNewSinceLastRead && len(snapshot.Feed.Items) > 0 {
		url := snapshot.Feed.Items[0].Link
		if e.metrics != nil {
			e.metrics.RecordNovelty(h.Source.ID)
		}
		req := ExtractionRequest{
			SourceID: h.Source.ID,
			Name:     h.Source.Name,
			URL:      url,
		}
		if !eph.Push(req) {
			log.Printf("engine: source %s: extraction queue full, dropping push (novelty re-observed next cycle)", h.Source.ID)
		} else if e.notifier != nil {
			if err := e.notifier.NotifyNovelty(ctx, h.Source, url); err != nil {
				log.Printf("engine: source %s: novelty notification failed: %v", h.Source.ID, err)
			}
		}
	}

	e.recordCycleOutcome(h.Source.ID, "success", start)
	return refreshTime, nil
}

func (e *Engine) recordCycleOutcome(sourceID, status string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordPollCycle(sourceID, status, time.Since(start))
	}
}

// adaptInterval derives the next refresh interval from the feed's own
// ttl hint, if present, with a phase correction that aligns the next
// poll to the source's own cadence, plus a fixed buffer. Without a
// ttl, the previous interval is kept unchanged.
func (e *Engine) adaptInterval(snapshot *FeedSnapshot, currentRefresh time.Duration) time.Duration {
	ttlMinutes, ok := feedTTLMinutes(snapshot.Feed)
	if !ok {
		return currentRefresh
	}

	refreshTime := time.Duration(ttlMinutes) * 60 * time.Second

	if snapshot.LastUpdatedAt != nil {
		elapsed := time.Since(*snapshot.LastUpdatedAt)
		phase := elapsed % refreshTime
		refreshTime -= phase
	}

	refreshTime += e.cfg.RefreshBuffer
	return refreshTime
}

func capDuration(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
