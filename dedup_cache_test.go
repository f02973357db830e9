package main

import (
	"context"
	"testing"
	"time"

	"ingestion-engine/config"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		TTL:            50 * time.Millisecond,
		Capacity:       2,
		RequestTimeout: 200 * time.Millisecond,
	}
}

func startTestCache(t *testing.T, cfg config.CacheConfig) (*DedupCache, context.CancelFunc) {
	t.Helper()
	cache := NewDedupCache(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go cache.Run(ctx)
	return cache, cancel
}

func TestDedupCacheSetThenGet(t *testing.T) {
	cache, cancel := startTestCache(t, testCacheConfig())
	defer cancel()

	ctx := context.Background()
	if err := cache.Set(ctx, "k1", "v1", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, found, err := cache.Get(ctx, "k1", time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || value != "v1" {
		t.Fatalf("got (%q, %v), want (%q, true)", value, found, "v1")
	}
}

func TestDedupCacheMissForUnknownKey(t *testing.T) {
	cache, cancel := startTestCache(t, testCacheConfig())
	defer cancel()

	_, found, err := cache.Get(context.Background(), "missing", time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected miss for unknown key")
	}
}

// TestDedupCacheExpiresAfterTTL grounds spec property 1: a fingerprint
// observed once must not be treated as novel again within its TTL, but
// must expire afterwards.
func TestDedupCacheExpiresAfterTTL(t *testing.T) {
	cfg := testCacheConfig()
	cache, cancel := startTestCache(t, cfg)
	defer cancel()

	ctx := context.Background()
	if err := cache.Set(ctx, "k1", "v1", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	time.Sleep(cfg.TTL + 20*time.Millisecond)

	_, found, err := cache.Get(ctx, "k1", time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected entry to have expired")
	}
}

// TestDedupCacheReadsDoNotPromote confirms a get never moves an entry's
// position in the eviction order, unlike a typical LRU touch-on-read.
func TestDedupCacheReadsDoNotPromote(t *testing.T) {
	cfg := testCacheConfig()
	cfg.TTL = time.Hour
	cfg.Capacity = 2
	cache, cancel := startTestCache(t, cfg)
	defer cancel()

	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	must(cache.Set(ctx, "a", "1", time.Second))
	must(cache.Set(ctx, "b", "2", time.Second))

	// Repeated reads of "a" must not protect it from eviction: it was
	// inserted first, so it is still the oldest by insertion time.
	for i := 0; i < 5; i++ {
		if _, found, _ := cache.Get(ctx, "a", time.Second); !found {
			t.Fatal("expected a to be present before eviction")
		}
	}

	must(cache.Set(ctx, "c", "3", time.Second))

	if _, found, _ := cache.Get(ctx, "a", time.Second); found {
		t.Fatal("expected a to be evicted as the oldest insertion despite repeated reads")
	}
	if _, found, _ := cache.Get(ctx, "c", time.Second); !found {
		t.Fatal("expected c to be present")
	}
}

func TestDedupCacheEvictsOldestWhenFull(t *testing.T) {
	cfg := testCacheConfig()
	cfg.TTL = time.Hour
	cfg.Capacity = 2
	cache, cancel := startTestCache(t, cfg)
	defer cancel()

	ctx := context.Background()
	_ = cache.Set(ctx, "a", "1", time.Second)
	_ = cache.Set(ctx, "b", "2", time.Second)
	_ = cache.Set(ctx, "c", "3", time.Second)

	if _, found, _ := cache.Get(ctx, "a", time.Second); found {
		t.Fatal("expected oldest entry a to be evicted")
	}
	if _, found, _ := cache.Get(ctx, "b", time.Second); !found {
		t.Fatal("expected b to remain")
	}
	if _, found, _ := cache.Get(ctx, "c", time.Second); !found {
		t.Fatal("expected c to remain")
	}
}

func TestDedupCacheGetTimesOutWhenServiceStopped(t *testing.T) {
	cache, cancel := startTestCache(t, testCacheConfig())
	cancel()
	time.Sleep(20 * time.Millisecond)

	_, _, err := cache.Get(context.Background(), "k1", 50*time.Millisecond)
	if err != ErrCacheUnavailable {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
}
