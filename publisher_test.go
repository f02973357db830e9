package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"ingestion-engine/config"
)

func testPublisherConfig() config.PublisherConfig {
	return config.PublisherConfig{
		Workers:          1,
		QueueCapacity:    1,
		OfferTimeout:     50 * time.Millisecond,
		ConstructRetries: 0,
		BackoffBase:      time.Millisecond,
		BackoffCap:       time.Millisecond,
	}
}

type recordingProducer struct {
	mu       sync.Mutex
	received []string
	fail     bool
}

func (p *recordingProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errFailed
	}
	p.received = append(p.received, key)
	return nil
}

func (p *recordingProducer) Close() {}

func newTestPublisher(cfg config.PublisherConfig, producer Producer, sink *TableSink) *Publisher {
	return &Publisher{
		queue:     make(chan publishJob, cfg.QueueCapacity),
		topic:     cfg.Topic,
		cfg:       cfg,
		producer:  producer,
		tableSink: sink,
	}
}

func TestPublisherPublishSucceedsAndDrainsToProducer(t *testing.T) {
	cfg := testPublisherConfig()
	producer := &recordingProducer{}
	p := newTestPublisher(cfg, producer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop(time.Second)

	if !p.Publish(context.Background(), "k1", DownstreamRecord{ID: "a1"}) {
		t.Fatal("expected publish to succeed")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		producer.mu.Lock()
		n := len(producer.received)
		producer.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the record to reach the producer")
}

// TestPublisherInFallbackModeRejectsEveryOffer grounds the fallback
// scenario: once the publisher is in fallback mode, every Publish call
// must return false so the caller writes to the table sink instead.
func TestPublisherInFallbackModeRejectsEveryOffer(t *testing.T) {
	cfg := testPublisherConfig()
	p := newTestPublisher(cfg, &recordingProducer{}, nil)
	p.fallback.Store(true)

	if p.Publish(context.Background(), "k1", DownstreamRecord{ID: "a1"}) {
		t.Fatal("expected publish to fail while in fallback mode")
	}
	p.Start(context.Background())
	p.Stop(time.Second)
}

func TestPublisherOfferTimesOutWhenQueueFull(t *testing.T) {
	cfg := testPublisherConfig()
	p := newTestPublisher(cfg, &recordingProducer{}, nil)

	// Fill the one-slot queue directly without starting workers so the
	// next offer has nowhere to go.
	p.queue <- publishJob{key: "k0", record: DownstreamRecord{ID: "a0"}}

	start := time.Now()
	ok := p.Publish(context.Background(), "k1", DownstreamRecord{ID: "a1"})
	elapsed := time.Since(start)

	if ok {
		t.Fatal("expected publish to fail when the queue is full")
	}
	if elapsed > cfg.OfferTimeout+100*time.Millisecond {
		t.Fatalf("publish blocked for %v, want roughly %v", elapsed, cfg.OfferTimeout)
	}
}

func TestPublishJobFallsBackToTableSinkOnProducerFailure(t *testing.T) {
	cfg := testPublisherConfig()
	producer := &recordingProducer{fail: true}
	p := newTestPublisher(cfg, producer, nil)

	// tableSink is nil: publishJob must not panic even though the
	// fallback write has nowhere to go.
	p.publishJob(context.Background(), publishJob{key: "k1", record: DownstreamRecord{ID: "a1"}})
}
