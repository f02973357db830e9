package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds all the Prometheus metrics for the engine.
type PrometheusMetrics struct {
	// Feed poller metrics
	pollCycleTotal    *prometheus.CounterVec
	pollCycleDuration *prometheus.HistogramVec
	pollCycleErrors   *prometheus.CounterVec
	pollerInterval    *prometheus.GaugeVec
	noveltyFound      *prometheus.CounterVec

	// Dedup cache metrics
	cacheOpsTotal *prometheus.CounterVec

	// Connection pool metrics
	poolInUse       *prometheus.GaugeVec
	poolSize        *prometheus.GaugeVec
	poolAcquireWait *prometheus.HistogramVec
	poolExhausted   *prometheus.CounterVec

	// Extraction worker pool metrics
	extractionTotal    *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec

	// Publisher metrics
	publishTotal           prometheus.Counter
	publisherQueueDepth    *prometheus.GaugeVec
	publisherQueueCapacity *prometheus.GaugeVec
	publisherFallbackMode  *prometheus.GaugeVec
	tableSinkWritesTotal   *prometheus.CounterVec

	// Novelty notification metrics
	notificationTotal *prometheus.CounterVec

	// HTTP admin surface metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// Circuit breaker metrics
	circuitBreakerState *prometheus.GaugeVec
	circuitBreakerTrips *prometheus.CounterVec

	// Table sink connection metrics
	dbConnections *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	metrics := &PrometheusMetrics{
		pollCycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_cycle_total",
				Help: "Total number of feed poll cycles run, by source and outcome",
			},
			[]string{"source_id", "status"},
		),
		pollCycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_cycle_duration_seconds",
				Help:    "Time spent running one feed poll cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source_id"},
		),
		pollCycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_cycle_errors_total",
				Help: "Total number of feed poll cycle errors, by error type",
			},
			[]string{"source_id", "error_type"},
		),
		pollerInterval: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "poller_refresh_interval_seconds",
				Help: "Current adaptive refresh interval for a source poller",
			},
			[]string{"source_id"},
		),
		noveltyFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelty_found_total",
				Help: "Total number of novel entries observed, by source",
			},
			[]string{"source_id"},
		),

		cacheOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_ops_total",
				Help: "Total number of dedup cache operations, by op and hit/miss",
			},
			[]string{"op", "result"},
		),

		poolInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "connection_pool_in_use",
				Help: "Current number of connection-pool handles on loan",
			},
			[]string{"socket_type"},
		),
		poolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "connection_pool_size",
				Help: "Current number of live connection-pool handles",
			},
			[]string{"socket_type"},
		),
		poolAcquireWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connection_pool_acquire_wait_seconds",
				Help:    "Time spent waiting to acquire a connection-pool handle",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"socket_type"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connection_pool_exhausted_total",
				Help: "Total number of connection-pool acquisitions that timed out",
			},
			[]string{"socket_type"},
		),

		extractionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_jobs_total",
				Help: "Total number of extraction jobs run, by source and outcome",
			},
			[]string{"source_id", "status"},
		),
		extractionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extraction_job_duration_seconds",
				Help:    "Time spent fetching and extracting one article",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 15.0, 30.0},
			},
			[]string{"source_id"},
		),

		publishTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "published_records_total",
				Help: "Total number of records successfully published downstream",
			},
		),
		publisherQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "publisher_queue_depth",
				Help: "Current number of records waiting in the publisher's FIFO",
			},
			[]string{},
		),
		publisherQueueCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "publisher_queue_capacity",
				Help: "Configured capacity of the publisher's FIFO",
			},
			[]string{},
		),
		publisherFallbackMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "publisher_fallback_mode",
				Help: "1 when the publisher has fallen back to the table sink permanently",
			},
			[]string{},
		),
		tableSinkWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "table_sink_writes_total",
				Help: "Total number of table-sink fallback writes, by outcome",
			},
			[]string{"status"},
		),

		notificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelty_notifications_total",
				Help: "Total number of novelty notifications sent, by outcome",
			},
			[]string{"status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Time spent processing HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Current state of circuit breakers (1 on the label of the current state, 0 on the other state labels)",
			},
			[]string{"name", "state"},
		),
		circuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_trips_total",
				Help: "Total number of circuit breaker trips",
			},
			[]string{"name"},
		),

		dbConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "database_connections",
				Help: "Current number of table-sink database connections",
			},
			[]string{"state"},
		),
	}

	prometheus.MustRegister(
		metrics.pollCycleTotal,
		metrics.pollCycleDuration,
		metrics.pollCycleErrors,
		metrics.pollerInterval,
		metrics.noveltyFound,
		metrics.cacheOpsTotal,
		metrics.poolInUse,
		metrics.poolSize,
		metrics.poolAcquireWait,
		metrics.poolExhausted,
		metrics.extractionTotal,
		metrics.extractionDuration,
		metrics.publishTotal,
		metrics.publisherQueueDepth,
		metrics.publisherQueueCapacity,
		metrics.publisherFallbackMode,
		metrics.tableSinkWritesTotal,
		metrics.notificationTotal,
		metrics.httpRequestDuration,
		metrics.httpRequestsTotal,
		metrics.circuitBreakerState,
		metrics.circuitBreakerTrips,
		metrics.dbConnections,
	)

	return metrics
}

// RecordPollCycle records one poll cycle's outcome and duration.
func (m *PrometheusMetrics) RecordPollCycle(sourceID, status string, duration time.Duration) {
	m.pollCycleTotal.WithLabelValues(sourceID, status).Inc()
	m.pollCycleDuration.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// RecordPollCycleError records a poll cycle error by type.
func (m *PrometheusMetrics) RecordPollCycleError(sourceID, errorType string) {
	m.pollCycleErrors.WithLabelValues(sourceID, errorType).Inc()
}

// UpdatePollerInterval records a source's current adaptive refresh interval.
func (m *PrometheusMetrics) UpdatePollerInterval(sourceID string, interval time.Duration) {
	m.pollerInterval.WithLabelValues(sourceID).Set(interval.Seconds())
}

// RecordNovelty records a novel entry observed for source.
func (m *PrometheusMetrics) RecordNovelty(sourceID string) {
	m.noveltyFound.WithLabelValues(sourceID).Inc()
}

// RecordCacheOp records one dedup cache get or set.
func (m *PrometheusMetrics) RecordCacheOp(op string, found bool) {
	result := "miss"
	if found {
		result = "hit"
	}
	m.cacheOpsTotal.WithLabelValues(op, result).Inc()
}

// UpdatePoolUsage records a connection pool's current in-use and total
// handle counts.
func (m *PrometheusMetrics) UpdatePoolUsage(socketType string, inUse, size int) {
	m.poolInUse.WithLabelValues(socketType).Set(float64(inUse))
	m.poolSize.WithLabelValues(socketType).Set(float64(size))
}

// RecordPoolAcquireWait records time spent waiting for a pool handle.
func (m *PrometheusMetrics) RecordPoolAcquireWait(socketType string, wait time.Duration) {
	m.poolAcquireWait.WithLabelValues(socketType).Observe(wait.Seconds())
}

// RecordPoolExhausted records a pool acquisition timeout.
func (m *PrometheusMetrics) RecordPoolExhausted(socketType string) {
	m.poolExhausted.WithLabelValues(socketType).Inc()
}

// RecordExtraction records one extraction job's outcome and duration.
func (m *PrometheusMetrics) RecordExtraction(sourceID, status string, duration time.Duration) {
	m.extractionTotal.WithLabelValues(sourceID, status).Inc()
	m.extractionDuration.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// RecordPublish records one successfully published record.
func (m *PrometheusMetrics) RecordPublish() {
	m.publishTotal.Inc()
}

// UpdatePublisherQueueDepth records the publisher FIFO's current depth.
func (m *PrometheusMetrics) UpdatePublisherQueueDepth(depth int) {
	m.publisherQueueDepth.WithLabelValues().Set(float64(depth))
}

// UpdatePublisherQueueCapacity records the publisher FIFO's configured capacity.
func (m *PrometheusMetrics) UpdatePublisherQueueCapacity(capacity int) {
	m.publisherQueueCapacity.WithLabelValues().Set(float64(capacity))
}

// UpdatePublisherFallback records whether the publisher is permanently
// in table-sink fallback mode.
func (m *PrometheusMetrics) UpdatePublisherFallback(fallback bool) {
	v := 0.0
	if fallback {
		v = 1.0
	}
	m.publisherFallbackMode.WithLabelValues().Set(v)
}

// RecordTableSinkWrite records one table-sink fallback write.
func (m *PrometheusMetrics) RecordTableSinkWrite(status string) {
	m.tableSinkWritesTotal.WithLabelValues(status).Inc()
}

// RecordNotification records one novelty notification attempt.
func (m *PrometheusMetrics) RecordNotification(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	m.notificationTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *PrometheusMetrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, statusCode).Observe(duration.Seconds())
}

// UpdateDBConnections updates table-sink database connection metrics.
func (m *PrometheusMetrics) UpdateDBConnections(open, inUse, idle int) {
	m.dbConnections.WithLabelValues("open").Set(float64(open))
	m.dbConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.dbConnections.WithLabelValues("idle").Set(float64(idle))
}

// HTTPMetricsMiddleware wraps a handler with request metrics recording.
func (m *PrometheusMetrics) HTTPMetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		statusCode := http.StatusText(rw.statusCode)
		m.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// UpdateCircuitBreakerState updates circuit breaker state metrics.
func (m *PrometheusMetrics) UpdateCircuitBreakerState(name string, state CircuitBreakerState) {
	m.circuitBreakerState.WithLabelValues(name, "closed").Set(0)
	m.circuitBreakerState.WithLabelValues(name, "half_open").Set(0)
	m.circuitBreakerState.WithLabelValues(name, "open").Set(0)
	m.circuitBreakerState.WithLabelValues(name, string(state)).Set(1)
}

// RecordCircuitBreakerTrip records when a circuit breaker trips to open state.
func (m *PrometheusMetrics) RecordCircuitBreakerTrip(name string) {
	m.circuitBreakerTrips.WithLabelValues(name).Inc()
}

// MetricsHandler returns the Prometheus metrics handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
