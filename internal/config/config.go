// Package config provides configuration management for the submission service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Reservation cache backends
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config holds all configuration for the submission service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Reservation  ReservationConfig  `mapstructure:"reservation"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Submission   SubmissionConfig   `mapstructure:"submission"`
	Shopify      ShopifyConfig      `mapstructure:"shopify"`
	Notification NotificationConfig `mapstructure:"notification"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Health       HealthConfig       `mapstructure:"health"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RedisConfig holds the reservation cache connection. Backend "memory" keeps
// reservations in process and is only safe for a single replica.
type RedisConfig struct {
	Backend      string `mapstructure:"backend"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// DatabaseConfig holds durable store configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
	// Path is the SQLite file when Driver is sqlite
	Path string `mapstructure:"path"`
}

// ReservationConfig controls identifier allocation.
type ReservationConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// RateLimitConfig holds both the per-client fixed window and the process-wide bucket.
type RateLimitConfig struct {
	Window       time.Duration `mapstructure:"window"`
	DefaultLimit int           `mapstructure:"default_limit"`
	GlobalRPS    float64       `mapstructure:"global_rps"`
	GlobalBurst  int           `mapstructure:"global_burst"`
}

// SubmissionConfig holds per-step I/O timeouts.
type SubmissionConfig struct {
	CacheTimeout     time.Duration `mapstructure:"cache_timeout"`
	AuthorityTimeout time.Duration `mapstructure:"authority_timeout"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
}

// ShopifyConfig configures the customer directory client.
type ShopifyConfig struct {
	APIVersion string        `mapstructure:"api_version"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// NotificationConfig holds email, webhook and dispatcher settings.
type NotificationConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	EmailAPIKey     string        `mapstructure:"email_api_key"`
	EmailFrom       string        `mapstructure:"email_from"`
	EmailEndpoint   string        `mapstructure:"email_endpoint"`
}

// CacheConfig holds the tenant and form configuration cache settings.
type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// HealthConfig holds dependency check settings.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load reads configuration from file and environment variables.
// Environment keys use the FORM_BUILDER_ prefix, e.g. FORM_BUILDER_REDIS_HOST.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/form-builder/")
	}

	v.SetEnvPrefix("FORM_BUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Redis defaults
	v.SetDefault("redis.backend", CacheRedis)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.max_retries", 2)

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "form_builder")
	v.SetDefault("database.user", "form_builder")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.path", "form-builder.db")

	// Reservation defaults
	v.SetDefault("reservation.ttl", "300s")
	v.SetDefault("reservation.max_attempts", 20)

	// Rate limit defaults
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.default_limit", 10)
	v.SetDefault("rate_limit.global_rps", 500.0)
	v.SetDefault("rate_limit.global_burst", 100)

	// Submission defaults
	v.SetDefault("submission.cache_timeout", "2s")
	v.SetDefault("submission.authority_timeout", "10s")
	v.SetDefault("submission.store_timeout", "5s")

	// Shopify defaults
	v.SetDefault("shopify.api_version", "2024-01")
	v.SetDefault("shopify.base_url", "")
	v.SetDefault("shopify.timeout", "15s")

	// Notification defaults
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.queue_size", 1000)
	v.SetDefault("notification.max_retries", 3)
	v.SetDefault("notification.initial_interval", "500ms")
	v.SetDefault("notification.max_interval", "30s")
	v.SetDefault("notification.attempt_timeout", "10s")
	v.SetDefault("notification.email_api_key", "")
	v.SetDefault("notification.email_from", "noreply@example.com")
	v.SetDefault("notification.email_endpoint", "")

	// Cache defaults
	v.SetDefault("cache.max_size", 10000)
	v.SetDefault("cache.ttl", "1m")

	v.SetDefault("health.check_interval", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "form-builder")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Redis.Backend {
	case CacheRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	case CacheMemory:
	default:
		return fmt.Errorf("unknown reservation cache backend: %q", c.Redis.Backend)
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	if c.Reservation.TTL <= 0 {
		return fmt.Errorf("reservation ttl must be positive")
	}
	if c.Reservation.MaxAttempts <= 0 {
		return fmt.Errorf("reservation max attempts must be positive")
	}

	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate limit window must be at least 1s")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 {
		return fmt.Errorf("global rate limit must not be negative")
	}

	if c.Submission.CacheTimeout <= 0 || c.Submission.AuthorityTimeout <= 0 || c.Submission.StoreTimeout <= 0 {
		return fmt.Errorf("submission step timeouts must be positive")
	}

	if c.Notification.Workers <= 0 {
		return fmt.Errorf("notification workers must be positive")
	}
	if c.Notification.QueueSize <= 0 {
		return fmt.Errorf("notification queue size must be positive")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be within [0, 1]")
	}

	return nil
}

// RedisAddr returns host:port for the reservation cache.
func (c RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
