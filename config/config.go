package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig
	App        AppConfig
	Engine     EngineConfig
	Cache      CacheConfig
	Pool       PoolConfig
	Extraction ExtractionConfig
	Publisher  PublisherConfig
	TableSink  TableSinkConfig
	Discord    DiscordConfig
	Prometheus PrometheusConfig
	Security   SecurityConfig
}

// DatabaseConfig holds table-sink database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// AppConfig holds general application configuration.
type AppConfig struct {
	Port               int
	SourceRegistryFile string
	LogLevel           string
}

// EngineConfig holds the feed scheduler's timing parameters.
type EngineConfig struct {
	MinRefreshInterval time.Duration
	RefreshBuffer      time.Duration
	MaxRefreshInterval time.Duration
	JitterFraction     float64
}

// CacheConfig holds dedup cache service parameters.
type CacheConfig struct {
	TTL            time.Duration
	Capacity       int
	RequestTimeout time.Duration
}

// PoolConfig holds connection-pool parameters, shared by the
// extraction-push and cache-request pools.
type PoolConfig struct {
	MaxPoolSize        int
	MaxConcurrentUsers int
	ConnectionTimeout  time.Duration
}

// ExtractionConfig holds extraction worker pool parameters.
type ExtractionConfig struct {
	Workers                 int
	FetchTimeout            time.Duration
	MaxArticleContentLength int
}

// PublisherConfig holds the downstream publisher sub-component's
// parameters.
type PublisherConfig struct {
	Workers          int
	QueueCapacity    int
	OfferTimeout     time.Duration
	ConstructRetries int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	BootstrapServers string
	Topic            string
	ClientIDPrefix   string
	AuthEnabled      bool
}

// TableSinkConfig holds the fallback persistence sink's parameters.
type TableSinkConfig struct {
	Table string
}

// DiscordConfig holds the optional novelty-notification webhook.
type DiscordConfig struct {
	WebhookURLs []string
	MaxRetries  int
	Timeout     time.Duration
}

// PrometheusConfig holds metrics endpoint configuration.
type PrometheusConfig struct {
	MetricsPath string
}

// SecurityConfig holds HTTP admin-surface CORS configuration.
type SecurityConfig struct {
	CORSAllowedOrigins string
	CORSAllowedMethods string
	CORSAllowedHeaders string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "ingestion_engine"),
		},
		App: AppConfig{
			Port:               getEnvInt("APP_PORT", 8080),
			SourceRegistryFile: getEnv("SOURCE_REGISTRY_FILE", "/app/sources.json"),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
		},
		Engine: EngineConfig{
			MinRefreshInterval: getEnvDuration("FEED_MIN_REFRESH_INTERVAL", 10*time.Second),
			RefreshBuffer:      getEnvDuration("FEED_REFRESH_BUFFER", 5*time.Second),
			MaxRefreshInterval: getEnvDuration("FEED_MAX_REFRESH_INTERVAL", 600*time.Second),
			JitterFraction:     0.1,
		},
		Cache: CacheConfig{
			TTL:            getEnvDuration("CACHE_TTL", 18600*time.Second),
			Capacity:       getEnvInt("CACHE_CAPACITY", 10000),
			RequestTimeout: getEnvDuration("CACHE_REQUEST_TIMEOUT", 1*time.Second),
		},
		Pool: PoolConfig{
			MaxPoolSize:        getEnvInt("POOL_MAX_SIZE", 50),
			MaxConcurrentUsers: getEnvInt("POOL_MAX_CONCURRENT_USERS", 25),
			ConnectionTimeout:  getEnvDuration("POOL_CONNECTION_TIMEOUT", 10*time.Second),
		},
		Extraction: ExtractionConfig{
			Workers:                 getEnvInt("EXTRACTION_WORKERS", 3),
			FetchTimeout:            getEnvDuration("EXTRACTION_FETCH_TIMEOUT", 15*time.Second),
			MaxArticleContentLength: getEnvInt("MAX_ARTICLE_CONTENT_LENGTH", 20000),
		},
		Publisher: PublisherConfig{
			Workers:          getEnvInt("PUBLISHER_WORKERS", 3),
			QueueCapacity:    getEnvInt("PUBLISHER_QUEUE_CAPACITY", 10000),
			OfferTimeout:     getEnvDuration("PUBLISHER_OFFER_TIMEOUT", 2*time.Second),
			ConstructRetries: getEnvInt("PUBLISHER_CONSTRUCT_RETRIES", 3),
			BackoffBase:      getEnvDuration("PUBLISHER_BACKOFF_BASE", 1*time.Second),
			BackoffCap:       getEnvDuration("PUBLISHER_BACKOFF_CAP", 30*time.Second),
			BootstrapServers: getEnv("PUBLISHER_BOOTSTRAP_SERVERS", ""),
			Topic:            getEnv("PUBLISHER_TOPIC", "articles"),
			ClientIDPrefix:   getEnv("PUBLISHER_CLIENT_ID_PREFIX", "ingestion-engine"),
			AuthEnabled:      getEnvBool("PUBLISHER_AUTH_ENABLED", false),
		},
		TableSink: TableSinkConfig{
			Table: getEnv("TABLE_SINK_TABLE", "articles"),
		},
		Discord: DiscordConfig{
			WebhookURLs: getEnvStringSlice("DISCORD_WEBHOOK_URLS", []string{}),
			MaxRetries:  getEnvInt("DISCORD_MAX_RETRIES", 2),
			Timeout:     getEnvDuration("DISCORD_TIMEOUT", 30*time.Second),
		},
		Prometheus: PrometheusConfig{
			MetricsPath: getEnv("PROMETHEUS_METRICS_PATH", "/metrics"),
		},
		Security: SecurityConfig{
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			CORSAllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,OPTIONS"),
			CORSAllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type"),
		},
	}
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// GetConnectionString returns the table-sink database connection string.
func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}
