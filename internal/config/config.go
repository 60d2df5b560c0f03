package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the clickpath tracker.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Postback   PostbackConfig
	Tracking   TrackingConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the raw event archive.
type ClickHouseConfig struct {
	Enabled bool
	DSN     string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// PostbackConfig configures the outbound postback dispatcher.
type PostbackConfig struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// TrackingConfig holds tracker-level settings.
type TrackingConfig struct {
	// DefaultCurrency applied when a postback omits one.
	DefaultCurrency string
	// TrustProxyHeader trusts X-Forwarded-For for visitor IPs.
	TrustProxyHeader bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("CLICKPATH_HTTP_ADDR", ":8080"),
			Env:             getEnv("CLICKPATH_ENV", "development"),
			ShutdownTimeout: getDurationEnv("CLICKPATH_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("CLICKPATH_DB_HOST", "localhost"),
			Port:     getIntEnv("CLICKPATH_DB_PORT", 5432),
			User:     getEnv("CLICKPATH_DB_USER", "clickpath"),
			Password: getEnv("CLICKPATH_DB_PASSWORD", "clickpath_secret"),
			DBName:   getEnv("CLICKPATH_DB_NAME", "clickpath"),
			SSLMode:  getEnv("CLICKPATH_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("CLICKPATH_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("CLICKPATH_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("CLICKPATH_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("CLICKPATH_REDIS_PASSWORD", ""),
			DB:       getIntEnv("CLICKPATH_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled: getBoolEnv("CLICKPATH_CLICKHOUSE_ENABLED", false),
			DSN:     getEnv("CLICKPATH_CLICKHOUSE_DSN", "clickhouse://localhost:9000/clickpath"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("CLICKPATH_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("CLICKPATH_RATE_LIMIT_RPS", 1000),
			Burst:   getIntEnv("CLICKPATH_RATE_LIMIT_BURST", 200),
		},
		Log: LogConfig{
			Level:  getEnv("CLICKPATH_LOG_LEVEL", "info"),
			Format: getEnv("CLICKPATH_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("CLICKPATH_METRICS_ENABLED", true),
			Path:    getEnv("CLICKPATH_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("CLICKPATH_GEO_ENABLED", false),
			DatabasePath: getEnv("CLICKPATH_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("CLICKPATH_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("CLICKPATH_GEO_CACHE_TTL", 1*time.Hour),
		},
		Postback: PostbackConfig{
			Workers:     getIntEnv("CLICKPATH_POSTBACK_WORKERS", 4),
			QueueSize:   getIntEnv("CLICKPATH_POSTBACK_QUEUE", 1024),
			MaxRetries:  getIntEnv("CLICKPATH_POSTBACK_RETRIES", 3),
			RetryDelay:  getDurationEnv("CLICKPATH_POSTBACK_RETRY_DELAY", 2*time.Second),
			SendTimeout: getDurationEnv("CLICKPATH_POSTBACK_TIMEOUT", 10*time.Second),
		},
		Tracking: TrackingConfig{
			DefaultCurrency:  getEnv("CLICKPATH_DEFAULT_CURRENCY", "USD"),
			TrustProxyHeader: getBoolEnv("CLICKPATH_TRUST_PROXY_HEADER", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Postback.Workers < 1 {
		return fmt.Errorf("CLICKPATH_POSTBACK_WORKERS must be at least 1")
	}
	if c.Postback.QueueSize < 1 {
		return fmt.Errorf("CLICKPATH_POSTBACK_QUEUE must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
