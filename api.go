package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"ingestion-engine/config"
)

// APIServer exposes the engine's admin HTTP surface: health and
// Prometheus metrics only. There is no public query API.
type APIServer struct {
	port            int
	metrics         *PrometheusMetrics
	config          *config.Config
	circuitBreakers *CircuitBreakerManager
	cachePool       *ConnectionPool
	pushPool        *ConnectionPool

	server *http.Server
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(port int, metrics *PrometheusMetrics, cfg *config.Config, circuitBreakers *CircuitBreakerManager, cachePool, pushPool *ConnectionPool) *APIServer {
	return &APIServer{
		port:            port,
		metrics:         metrics,
		config:          cfg,
		circuitBreakers: circuitBreakers,
		cachePool:       cachePool,
		pushPool:        pushPool,
	}
}

// Start starts the HTTP server.
func (s *APIServer) Start() {
	mux := http.NewServeMux()

	corsHandler := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", s.config.Security.CORSAllowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", s.config.Security.CORSAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", s.config.Security.CORSAllowedHeaders)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	mux.HandleFunc("/health", corsHandler(s.metrics.HTTPMetricsMiddleware(s.healthCheck, "/health")))
	mux.Handle(s.config.Prometheus.MetricsPath, MetricsHandler())

	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("starting admin HTTP server on %s", addr)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("admin HTTP server failed: %v", err)
	}
}

// Stop gracefully shuts down the HTTP server, bounded by timeout. It is
// safe to call even if Start has not yet assigned the server (a race
// at startup), in which case it is a no-op.
func (s *APIServer) Stop(timeout time.Duration) {
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Printf("admin HTTP server: shutdown error: %v", err)
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status          string                          `json:"status"`
	Timestamp       string                          `json:"timestamp"`
	CircuitBreakers map[string]CircuitBreakerStatus `json:"circuit_breakers"`
	Pools           map[string]PoolHealth           `json:"pools"`
	UptimeSeconds   int64                           `json:"uptime_seconds"`
}

// PoolHealth reports a connection pool's current utilization.
type PoolHealth struct {
	InUse int `json:"in_use"`
	Size  int `json:"size"`
}

var startTime = time.Now()

// healthCheck reports circuit breaker and connection pool state, the
// only runtime signals the admin surface exposes.
func (s *APIServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Timestamp:       time.Now().Format(time.RFC3339),
		CircuitBreakers: s.circuitBreakers.GetStatus(),
		Pools: map[string]PoolHealth{
			"cache-request":    {InUse: s.cachePool.InUse(), Size: s.cachePool.Size()},
			"extraction-push":  {InUse: s.pushPool.InUse(), Size: s.pushPool.Size()},
		},
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}

	health.Status = "healthy"
	for _, cb := range health.CircuitBreakers {
		if cb.State == StateOpen {
			health.Status = "degraded"
			break
		}
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}
