package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ingestion-engine/config"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("starting ingestion engine")

	metrics := NewPrometheusMetrics()
	log.Println("prometheus metrics initialized")

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	sources, err := LoadSourceRegistry(cfg.App.SourceRegistryFile)
	if err != nil {
		log.Fatalf("failed to load source registry: %v", err)
	}
	log.Printf("loaded %d sources", len(sources))

	circuitBreakers := NewCircuitBreakerManager()
	circuitBreakers.SetMetrics(metrics)

	httpClient := &http.Client{Timeout: cfg.Extraction.FetchTimeout}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedupCache := NewDedupCache(cfg.Cache, metrics)
	go dedupCache.Run(ctx)

	cachePool := NewConnectionPool("cache-request", cfg.Pool, NewCacheRequestHandleFactory(dedupCache, cfg.Cache.RequestTimeout))

	tableSink := NewTableSink(db, cfg.TableSink, metrics)
	if err := tableSink.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to prepare table sink: %v", err)
	}

	publisher := NewPublisher(cfg.Publisher, tableSink, metrics)
	publisher.Start(ctx)

	extractionBreaker := circuitBreakers.GetOrCreateBreaker("extraction", nil)
	extractor := NewArticleExtractor(cfg.Extraction, httpClient, extractionBreaker, metrics)
	dispatcher := NewExtractionDispatcher(cfg.Extraction, sources, extractor, publisher, tableSink, metrics)
	dispatcher.Start(ctx)

	pushPool := NewConnectionPool("extraction-push", cfg.Pool, NewExtractionPushHandleFactory(dispatcher.Queue()))

	notifier := buildNotifier(cfg, httpClient, metrics)

	engine := NewEngine(cfg.Engine, sources, dedupCache, cfg.Cache.RequestTimeout, cachePool, pushPool, notifier, metrics, circuitBreakers, httpClient)
	engine.Start(ctx)

	apiServer := NewAPIServer(cfg.App.Port, metrics, cfg, circuitBreakers, cachePool, pushPool)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		apiServer.Start()
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.UpdateDBConnections(stats.OpenConnections, stats.InUse, stats.Idle)
				metrics.UpdatePoolUsage("cache-request", cachePool.InUse(), cachePool.Size())
				metrics.UpdatePoolUsage("extraction-push", pushPool.InUse(), pushPool.Size())
			}
		}
	}()

	<-sigChan
	log.Println("shutdown signal received, stopping services...")

	engine.Stop(15 * time.Second)
	dispatcher.Stop(15 * time.Second)
	publisher.Stop(10 * time.Second)
	cachePool.CloseAll()
	pushPool.CloseAll()
	apiServer.Stop(5 * time.Second)

	cancel()
	wg.Wait()
	log.Println("all services stopped successfully")
}

// buildNotifier returns a DiscordNotifier when webhook URLs are
// configured, otherwise a no-op notifier so the engine never needs a
// nil check.
func buildNotifier(cfg *config.Config, httpClient *http.Client, metrics *PrometheusMetrics) EventNotifier {
	if len(cfg.Discord.WebhookURLs) == 0 {
		return NullNotifier{}
	}
	return NewDiscordNotifier(cfg.Discord, httpClient, metrics)
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	connStr := cfg.GetConnectionString()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	log.Println("database connection established")
	return db, nil
}
