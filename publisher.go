package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"ingestion-engine/config"
)

// Producer abstracts the downstream message bus client. No concrete
// bus client is wired; the default implementation logs and always
// succeeds, standing in for environments where the real service is
// unavailable.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close()
}

// loggingProducer stands in for a real bus client.
type loggingProducer struct {
	topic string
}

func (p *loggingProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	log.Printf("publisher: (stand-in producer) publish topic=%s key=%s bytes=%d", topic, key, len(value))
	return nil
}

func (p *loggingProducer) Close() {}

// newProducer constructs the bus client. It is written to return an
// error so a real client implementation can be substituted without
// changing the retry/fallback machinery around it.
func newProducer(cfg config.PublisherConfig) (Producer, error) {
	return &loggingProducer{topic: cfg.Topic}, nil
}

type publishJob struct {
	key    string
	record DownstreamRecord
}

// Publisher is a bounded FIFO of records drained by a fixed pool of
// background goroutines. When the bus client cannot be constructed
// after repeated attempts, the publisher enters fallback mode and every
// offer is rejected so callers write directly to the table sink
// instead.
type Publisher struct {
	queue  chan publishJob
	topic  string
	cfg    config.PublisherConfig
	metrics *PrometheusMetrics

	producer  Producer
	tableSink *TableSink
	fallback  atomic.Bool

	wg sync.WaitGroup
}

// NewPublisher attempts to construct the bus client, retrying with
// exponential backoff up to cfg.ConstructRetries times. Exhausting the
// retries leaves the publisher permanently in fallback mode rather than
// failing startup.
func NewPublisher(cfg config.PublisherConfig, tableSink *TableSink, metrics *PrometheusMetrics) *Publisher {
	p := &Publisher{
		queue:     make(chan publishJob, cfg.QueueCapacity),
		topic:     cfg.Topic,
		cfg:       cfg,
		metrics:   metrics,
		tableSink: tableSink,
	}

	producer, err := p.constructWithRetry(cfg)
	if err != nil {
		log.Printf("publisher: entering fallback mode: %v", err)
		p.fallback.Store(true)
	} else {
		p.producer = producer
	}

	if metrics != nil {
		metrics.UpdatePublisherFallback(p.fallback.Load())
		metrics.UpdatePublisherQueueCapacity(cfg.QueueCapacity)
	}

	return p
}

func (p *Publisher) constructWithRetry(cfg config.PublisherConfig) (Producer, error) {
	var lastErr error
	backoff := cfg.BackoffBase

	for attempt := 0; attempt <= cfg.ConstructRetries; attempt++ {
		producer, err := newProducer(cfg)
		if err == nil {
			return producer, nil
		}
		lastErr = err

		if attempt < cfg.ConstructRetries {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > cfg.BackoffCap {
				backoff = cfg.BackoffCap
			}
		}
	}
	return nil, fmt.Errorf("construct producer after %d attempts: %w", cfg.ConstructRetries+1, lastErr)
}

// maxPublisherWorkers is the hard cap on publisher goroutines,
// whatever cfg.Workers is set to.
const maxPublisherWorkers = 5

// Start spawns the fixed worker pool draining the queue.
func (p *Publisher) Start(ctx context.Context) {
	if p.fallback.Load() {
		log.Println("publisher: started in fallback mode, no workers spawned")
		return
	}

	workers := p.cfg.Workers
	if workers > maxPublisherWorkers {
		workers = maxPublisherWorkers
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
	log.Printf("publisher started with %d workers", workers)
}

// Stop closes the queue, signaling workers to drain whatever is
// already buffered and then exit, bounded by timeout, then closes the
// producer. Callers must ensure nothing can still call Publish once
// Stop is called.
func (p *Publisher) Stop(timeout time.Duration) {
	if p.fallback.Load() {
		return
	}

	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("publisher: queue drained, all workers exited")
	case <-time.After(timeout):
		log.Println("publisher: timed out waiting for workers to drain the queue")
	}

	if p.producer != nil {
		p.producer.Close()
	}
}

// Publish offers record to the bounded queue, waiting up to
// OfferTimeout. It returns false when the publisher is in fallback
// mode, the offer times out, or ctx is cancelled, in every case the
// caller is expected to fall back to the table sink.
func (p *Publisher) Publish(ctx context.Context, key string, record DownstreamRecord) bool {
	if p.fallback.Load() {
		return false
	}

	timer := time.NewTimer(p.cfg.OfferTimeout)
	defer timer.Stop()

	select {
	case p.queue <- publishJob{key: key, record: record}:
		if p.metrics != nil {
			p.metrics.UpdatePublisherQueueDepth(len(p.queue))
		}
		return true
	case <-timer.C:
		log.Printf("publisher: offer timed out for key %s", key)
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *Publisher) worker(ctx context.Context) {
	for job := range p.queue {
		p.publishJob(ctx, job)
	}
}

func (p *Publisher) publishJob(ctx context.Context, job publishJob) {
	value, err := json.Marshal(job.record)
	if err != nil {
		log.Printf("publisher: marshal record %s: %v", job.key, err)
		return
	}

	if err := p.producer.Publish(ctx, p.topic, job.key, value); err != nil {
		log.Printf("publisher: publish %s failed, writing to table sink: %v", job.key, err)
		if p.tableSink != nil {
			if sinkErr := p.tableSink.Write(ctx, job.record); sinkErr != nil {
				log.Printf("publisher: table sink fallback also failed for %s: %v", job.key, sinkErr)
			}
		}
		return
	}

	if p.metrics != nil {
		p.metrics.RecordPublish()
	}
}
