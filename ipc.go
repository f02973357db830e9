package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"ingestion-engine/config"
)

// ErrPoolExhausted is returned when Get cannot obtain a handle within
// connection_timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// Handle is a socket handle currently connected (or connectable) to an
// endpoint. It is in exactly one state at a time, tracked by the pool
// that owns it: available, in_use, or closed.
type Handle interface {
	// Connect (re)points the handle at endpoint. Reassigning an idle
	// handle to a different endpoint is a disconnect/reconnect.
	Connect(endpoint string) error
	// Disconnect releases any endpoint-specific resources without
	// destroying the handle itself.
	Disconnect()
	// Close permanently destroys the handle.
	Close()
	// Endpoint reports the endpoint the handle is currently connected
	// to, or "" if disconnected.
	Endpoint() string
}

type handleState int

const (
	stateAvailable handleState = iota
	stateInUse
	stateClosed
)

type pooledHandle struct {
	handle Handle
	state  handleState
}

// ConnectionPool bounds the number of live IPC handles for one socket
// type (e.g. "cache-request" or "extraction-push") regardless of how
// many logical sources are using it. Naive per-cycle socket creation
// is a common cause of descriptor exhaustion; this pool avoids that by
// giving pollers borrowed, returned handles instead.
type ConnectionPool struct {
	socketType         string
	maxPoolSize        int
	maxConcurrentUsers int
	connectionTimeout  time.Duration
	factory            func() (Handle, error)

	mu      sync.Mutex
	handles []*pooledHandle
	inUse   int
	notify  chan struct{}
}

// NewConnectionPool constructs a pool for one socket type. factory
// creates a fresh, unconnected Handle.
func NewConnectionPool(socketType string, cfg config.PoolConfig, factory func() (Handle, error)) *ConnectionPool {
	return &ConnectionPool{
		socketType:         socketType,
		maxPoolSize:        cfg.MaxPoolSize,
		maxConcurrentUsers: cfg.MaxConcurrentUsers,
		connectionTimeout:  cfg.ConnectionTimeout,
		factory:            factory,
		notify:             make(chan struct{}),
	}
}

// Get acquires a handle connected to endpoint, blocking up to
// connection_timeout. It prefers a handle already connected to
// endpoint, then reassigns an idle handle, then creates a new handle
// if under max_pool_size. Returns ErrPoolExhausted on timeout.
func (p *ConnectionPool) Get(ctx context.Context, endpoint string) (Handle, error) {
	deadline := time.Now().Add(p.connectionTimeout)

	for {
		if h, ok := p.tryAcquire(endpoint); ok {
			return h, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrPoolExhausted
		}

		p.mu.Lock()
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-time.After(remaining):
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *ConnectionPool) tryAcquire(endpoint string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse >= p.maxConcurrentUsers {
		return nil, false
	}

	// Prefer a handle already connected to this endpoint.
	for _, ph := range p.handles {
		if ph.state == stateAvailable && ph.handle.Endpoint() == endpoint {
			ph.state = stateInUse
			p.inUse++
			return ph.handle, true
		}
	}

	// Reassign an idle handle connected elsewhere.
	for _, ph := range p.handles {
		if ph.state == stateAvailable {
			if err := ph.handle.Connect(endpoint); err == nil {
				ph.state = stateInUse
				p.inUse++
				return ph.handle, true
			}
		}
	}

	// Create a new handle if there is room.
	if len(p.handles) < p.maxPoolSize {
		h, err := p.factory()
		if err != nil {
			return nil, false
		}
		if err := h.Connect(endpoint); err != nil {
			h.Close()
			return nil, false
		}
		ph := &pooledHandle{handle: h, state: stateInUse}
		p.handles = append(p.handles, ph)
		p.inUse++
		return h, true
	}

	return nil, false
}

// Return places handle back into the pool as available. If the pool is
// over capacity the oldest idle handle is evicted and closed.
func (p *ConnectionPool) Return(h Handle) {
	p.mu.Lock()
	defer func() {
		p.signalLocked()
		p.mu.Unlock()
	}()

	for _, ph := range p.handles {
		if ph.handle == h {
			ph.state = stateAvailable
			p.inUse--
			break
		}
	}

	for len(p.handles) > p.maxPoolSize {
		evicted := false
		for i, ph := range p.handles {
			if ph.state == stateAvailable {
				ph.handle.Close()
				p.handles = append(p.handles[:i], p.handles[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
}

// CloseAll disconnects and closes every handle and resets counters.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	defer func() {
		p.signalLocked()
		p.mu.Unlock()
	}()

	for _, ph := range p.handles {
		ph.handle.Close()
	}
	p.handles = nil
	p.inUse = 0
}

// InUse reports the current number of handles currently on loan.
func (p *ConnectionPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Size reports the current number of live handles, idle or in use.
func (p *ConnectionPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *ConnectionPool) signalLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// --- concrete handle kinds ---

// cacheRequestHandle lets a poller perform cache get/set round trips
// against the dedup cache service's request/reply endpoint.
type cacheRequestHandle struct {
	cache    *DedupCache
	timeout  time.Duration
	endpoint string
}

// NewCacheRequestHandleFactory builds handles bound to the given dedup
// cache, implementing a "request/reply" socket type.
func NewCacheRequestHandleFactory(cache *DedupCache, timeout time.Duration) func() (Handle, error) {
	return func() (Handle, error) {
		return &cacheRequestHandle{cache: cache, timeout: timeout}, nil
	}
}

func (h *cacheRequestHandle) Connect(endpoint string) error { h.endpoint = endpoint; return nil }
func (h *cacheRequestHandle) Disconnect()                   { h.endpoint = "" }
func (h *cacheRequestHandle) Close()                        { h.endpoint = "" }
func (h *cacheRequestHandle) Endpoint() string              { return h.endpoint }

func (h *cacheRequestHandle) Get(ctx context.Context, key string) (string, bool, error) {
	return h.cache.Get(ctx, key, h.timeout)
}

func (h *cacheRequestHandle) Set(ctx context.Context, key, value string) error {
	return h.cache.Set(ctx, key, value, h.timeout)
}

// extractionPushHandle lets a poller push novelty records onto the
// extraction dispatcher's pull endpoint. The channel's buffer size is
// the endpoint's receive-high-water-mark; a full buffer makes Push
// return false immediately (non-blocking best effort).
type extractionPushHandle struct {
	queue    chan<- ExtractionRequest
	endpoint string
}

// NewExtractionPushHandleFactory builds handles bound to the given
// extraction queue, implementing a "push/pull" socket type.
func NewExtractionPushHandleFactory(queue chan<- ExtractionRequest) func() (Handle, error) {
	return func() (Handle, error) {
		return &extractionPushHandle{queue: queue}, nil
	}
}

func (h *extractionPushHandle) Connect(endpoint string) error { h.endpoint = endpoint; return nil }
func (h *extractionPushHandle) Disconnect()                   { h.endpoint = "" }
func (h *extractionPushHandle) Close()                        { h.endpoint = "" }
func (h *extractionPushHandle) Endpoint() string              { return h.endpoint }

func (h *extractionPushHandle) Push(req ExtractionRequest) bool {
	select {
	case h.queue <- req:
		return true
	default:
		return false
	}
}
