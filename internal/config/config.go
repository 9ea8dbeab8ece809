// Package config provides configuration management for the log ingestion
// pipeline.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration files (YAML)
// 2. Environment variables
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse"`
	App           AppConfig           `mapstructure:"app"`
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	BlobStorage   BlobStorageConfig   `mapstructure:"blob_storage"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// AppConfig contains application-level configuration.
type AppConfig struct {
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig contains HTTP and WebSocket server configuration.
type ServerConfig struct {
	Environment        string        `mapstructure:"environment"`
	Host               string        `mapstructure:"host"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	TrustedProxies     []string      `mapstructure:"trusted_proxies"`
	CORSAllowedHeaders []string      `mapstructure:"cors_allowed_headers"`
	CORSAllowedMethods []string      `mapstructure:"cors_allowed_methods"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	MaxRequestSize     int64         `mapstructure:"max_request_size"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	Port               int           `mapstructure:"port"`
	EnableCORS         bool          `mapstructure:"enable_cors"`
}

// ClickHouseConfig contains ClickHouse database configuration.
type ClickHouseConfig struct {
	MigrationsPath   string        `mapstructure:"migrations_path"`
	AutoMigrate      bool          `mapstructure:"auto_migrate"`
	Host             string        `mapstructure:"host"`
	MigrationsEngine string        `mapstructure:"migrations_engine"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	URL              string        `mapstructure:"url"`
	MigrationsTable  string        `mapstructure:"migrations_table"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	Port             int           `mapstructure:"port"`
}

// RedisConfig contains Redis configuration, used both for the ingestion
// stream/consumer groups and for the idempotency store.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Password     string        `mapstructure:"password"`
	Port         int           `mapstructure:"port"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`    // debug, info, warn, error
	Format     string `mapstructure:"format"`   // json, text
	Output     string `mapstructure:"output"`   // stdout, stderr, file
	File       string `mapstructure:"file"`     // file path if output=file
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// MonitoringConfig contains monitoring and observability configuration.
type MonitoringConfig struct {
	MetricsPath    string        `mapstructure:"metrics_path"`
	PrometheusPort int           `mapstructure:"prometheus_port"`
	SampleRate     float64       `mapstructure:"sample_rate"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	Enabled        bool          `mapstructure:"enabled"`
}

// ObservabilityConfig contains ingest-path observability toggles.
type ObservabilityConfig struct {
	PreserveRawPayload bool `mapstructure:"preserve_raw_payload"`
}

// ArchiveConfig contains DLQ cold-archival configuration (C5).
type ArchiveConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	PathPrefix           string `mapstructure:"path_prefix"`
	CompressionLevel     int    `mapstructure:"compression_level"`
	DefaultRetentionDays int    `mapstructure:"default_retention_days"`
}

// WorkersConfig contains background worker pool configuration (C7/C8).
type WorkersConfig struct {
	IngestWorkerCount    int           `mapstructure:"ingest_worker_count"`
	BatchSize            int           `mapstructure:"batch_size"`
	BatchMaxWait         time.Duration `mapstructure:"batch_max_wait"`
	RetryQueueLimit      int64         `mapstructure:"retry_queue_limit"`
	RestartBaseDelay     time.Duration `mapstructure:"restart_base_delay"`
	RestartMaxDelay      time.Duration `mapstructure:"restart_max_delay"`
	BackpressureCooldown time.Duration `mapstructure:"backpressure_cooldown"`
}

// IdempotencyConfig contains the request-coalescer and idempotency-store
// pre-handler hook configuration (C9/C10).
type IdempotencyConfig struct {
	Enforce             bool          `mapstructure:"enforce"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	ResponseTTL         time.Duration `mapstructure:"response_ttl"`
	CacheSize           int           `mapstructure:"cache_size"`
	CoalesceEnabled     bool          `mapstructure:"coalesce_enabled"`
	CoalesceMaxBatch    int           `mapstructure:"coalesce_max_batch"`
	CoalesceMaxWaitTime time.Duration `mapstructure:"coalesce_max_wait_time"`
}

// NotificationsConfig contains DLQ backpressure-alert configuration.
type NotificationsConfig struct {
	AlertWebhookURL string `mapstructure:"alert_webhook_url"`
}

// BlobStorageConfig contains blob storage configuration, used both for
// large payload offloading and for DLQ parquet cold-archival uploads.
type BlobStorageConfig struct {
	Provider        string `mapstructure:"provider"`          // "s3", "minio", "gcs", "azure"
	BucketName      string `mapstructure:"bucket_name"`       // "logpipe"
	Region          string `mapstructure:"region"`            // "us-east-1"
	Endpoint        string `mapstructure:"endpoint"`          // For MinIO: "http://localhost:9000"
	AccessKeyID     string `mapstructure:"access_key_id"`     // AWS access key
	SecretAccessKey string `mapstructure:"secret_access_key"` // AWS secret
	UsePathStyle    bool   `mapstructure:"use_path_style"`    // true for MinIO
	Threshold       int    `mapstructure:"threshold"`         // 10000 (10KB)
}

// Validate validates the main configuration and all sub-configurations.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("clickhouse config validation failed: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config validation failed: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config validation failed: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", sc.Port)
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read_timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write_timeout cannot be negative")
	}

	if sc.MaxRequestSize <= 0 {
		return errors.New("max_request_size must be positive")
	}

	return nil
}

// Validate validates ClickHouse configuration.
func (cc *ClickHouseConfig) Validate() error {
	if cc.URL != "" {
		return nil // URL takes precedence
	}

	if cc.Host == "" {
		return errors.New("either url or host must be provided for clickhouse")
	}

	if cc.Port <= 0 || cc.Port > 65535 {
		return fmt.Errorf("invalid clickhouse port: %d (must be 1-65535)", cc.Port)
	}

	if cc.Database == "" {
		return errors.New("clickhouse database name cannot be empty when using individual fields")
	}

	return nil
}

// Validate validates Redis configuration.
func (rc *RedisConfig) Validate() error {
	if rc.URL != "" {
		if rc.PoolSize < 0 {
			return errors.New("pool_size cannot be negative")
		}
		return nil
	}

	if rc.Host == "" {
		return errors.New("either url or host must be provided for redis")
	}

	if rc.Port <= 0 || rc.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d (must be 1-65535)", rc.Port)
	}

	if rc.Database < 0 || rc.Database > 15 {
		return fmt.Errorf("invalid redis database number: %d (must be 0-15)", rc.Database)
	}

	if rc.PoolSize < 0 {
		return errors.New("pool_size cannot be negative")
	}

	return nil
}

// Validate validates logging configuration.
func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	isValid := false
	for _, level := range validLevels {
		if lc.Level == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of %v)", lc.Level, validLevels)
	}

	validFormats := []string{"json", "text"}
	isValid = false
	for _, format := range validFormats {
		if lc.Format == format {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log format: %s (must be one of %v)", lc.Format, validFormats)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	isValid = false
	for _, output := range validOutputs {
		if lc.Output == output {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log output: %s (must be one of %v)", lc.Output, validOutputs)
	}

	if lc.Output == "file" && lc.File == "" {
		return errors.New("file path is required when output is 'file'")
	}

	return nil
}

// Validate validates monitoring configuration.
func (mc *MonitoringConfig) Validate() error {
	if mc.Enabled {
		if mc.PrometheusPort <= 0 || mc.PrometheusPort > 65535 {
			return fmt.Errorf("invalid prometheus_port: %d", mc.PrometheusPort)
		}

		if mc.MetricsPath == "" {
			return errors.New("metrics_path is required when monitoring is enabled")
		}

		if mc.SampleRate < 0 || mc.SampleRate > 1 {
			return fmt.Errorf("sample_rate must be between 0 and 1, got %f", mc.SampleRate)
		}
	}

	return nil
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/logpipe")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck // BindEnv only errors with invalid args, safe with string literals
	viper.BindEnv("clickhouse.url", "CLICKHOUSE_URL")
	//nolint:errcheck
	viper.BindEnv("redis.url", "REDIS_URL")
	//nolint:errcheck
	viper.BindEnv("server.port", "PORT")
	//nolint:errcheck
	viper.BindEnv("server.environment", "ENV")
	//nolint:errcheck
	viper.BindEnv("logging.level", "LOG_LEVEL")
	//nolint:errcheck
	viper.BindEnv("logging.format", "LOG_FORMAT")

	//nolint:errcheck
	viper.BindEnv("server.cors_allowed_origins", "CORS_ALLOWED_ORIGINS")
	//nolint:errcheck
	viper.BindEnv("server.cors_allowed_methods", "CORS_ALLOWED_METHODS")
	//nolint:errcheck
	viper.BindEnv("server.cors_allowed_headers", "CORS_ALLOWED_HEADERS")

	//nolint:errcheck
	viper.BindEnv("blob_storage.provider", "BLOB_STORAGE_PROVIDER")
	//nolint:errcheck
	viper.BindEnv("blob_storage.bucket_name", "BLOB_STORAGE_BUCKET_NAME")
	//nolint:errcheck
	viper.BindEnv("blob_storage.region", "BLOB_STORAGE_REGION")
	//nolint:errcheck
	viper.BindEnv("blob_storage.endpoint", "BLOB_STORAGE_ENDPOINT")
	//nolint:errcheck
	viper.BindEnv("blob_storage.access_key_id", "BLOB_STORAGE_ACCESS_KEY_ID")
	//nolint:errcheck
	viper.BindEnv("blob_storage.secret_access_key", "BLOB_STORAGE_SECRET_ACCESS_KEY")
	//nolint:errcheck
	viper.BindEnv("blob_storage.use_path_style", "BLOB_STORAGE_USE_PATH_STYLE")
	//nolint:errcheck
	viper.BindEnv("blob_storage.threshold", "BLOB_STORAGE_THRESHOLD")

	//nolint:errcheck
	viper.BindEnv("archive.enabled", "ARCHIVE_ENABLED")
	//nolint:errcheck
	viper.BindEnv("archive.path_prefix", "ARCHIVE_PATH_PREFIX")
	//nolint:errcheck
	viper.BindEnv("archive.compression_level", "ARCHIVE_COMPRESSION_LEVEL")
	//nolint:errcheck
	viper.BindEnv("archive.default_retention_days", "ARCHIVE_DEFAULT_RETENTION_DAYS")

	//nolint:errcheck
	viper.BindEnv("clickhouse.migrations_path", "CLICKHOUSE_MIGRATIONS_PATH")
	//nolint:errcheck
	viper.BindEnv("clickhouse.migrations_engine", "CLICKHOUSE_MIGRATIONS_ENGINE")
	//nolint:errcheck
	viper.BindEnv("clickhouse.auto_migrate", "CLICKHOUSE_AUTO_MIGRATE")

	//nolint:errcheck
	viper.BindEnv("workers.ingest_worker_count", "INGEST_WORKER_COUNT")
	//nolint:errcheck
	viper.BindEnv("workers.batch_size", "INGEST_BATCH_SIZE")
	//nolint:errcheck
	viper.BindEnv("workers.retry_queue_limit", "INGEST_RETRY_QUEUE_LIMIT")

	//nolint:errcheck
	viper.BindEnv("idempotency.enforce", "IDEMPOTENCY_ENFORCE")

	//nolint:errcheck
	viper.BindEnv("notifications.alert_webhook_url", "ALERT_WEBHOOK_URL")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("app.name", "logpipe")
	viper.SetDefault("app.version", "1.0.0")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.max_request_size", 32<<20) // 32MB
	viper.SetDefault("server.enable_cors", true)
	viper.SetDefault("server.cors_allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Idempotency-Key"})

	viper.SetDefault("clickhouse.url", "")
	viper.SetDefault("clickhouse.host", "localhost")
	viper.SetDefault("clickhouse.port", 9000)
	viper.SetDefault("clickhouse.user", "default")
	viper.SetDefault("clickhouse.database", "default")
	viper.SetDefault("clickhouse.max_open_conns", 50)
	viper.SetDefault("clickhouse.max_idle_conns", 5)
	viper.SetDefault("clickhouse.conn_max_lifetime", "1h")
	viper.SetDefault("clickhouse.read_timeout", "30s")
	viper.SetDefault("clickhouse.write_timeout", "30s")
	viper.SetDefault("clickhouse.migrations_engine", "MergeTree")
	viper.SetDefault("clickhouse.migrations_path", "migrations/clickhouse")
	viper.SetDefault("clickhouse.migrations_table", "schema_migrations")
	viper.SetDefault("clickhouse.auto_migrate", true)

	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.idle_timeout", "5m")
	viper.SetDefault("redis.max_retries", 3)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.prometheus_port", 9090)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.sample_rate", 0.1)

	viper.SetDefault("observability.preserve_raw_payload", true)

	viper.SetDefault("blob_storage.provider", "minio")
	viper.SetDefault("blob_storage.bucket_name", "logpipe")
	viper.SetDefault("blob_storage.region", "us-east-1")
	viper.SetDefault("blob_storage.endpoint", "http://localhost:9100")
	viper.SetDefault("blob_storage.use_path_style", true)
	viper.SetDefault("blob_storage.threshold", 10_000)

	viper.SetDefault("archive.enabled", true)
	viper.SetDefault("archive.path_prefix", "logpipe/dlq/")
	viper.SetDefault("archive.compression_level", 3)
	viper.SetDefault("archive.default_retention_days", 30)

	viper.SetDefault("workers.ingest_worker_count", 4)
	viper.SetDefault("workers.batch_size", 100_000)
	viper.SetDefault("workers.batch_max_wait", "1s")
	viper.SetDefault("workers.retry_queue_limit", 1000)
	viper.SetDefault("workers.restart_base_delay", "1s")
	viper.SetDefault("workers.restart_max_delay", "30s")
	viper.SetDefault("workers.backpressure_cooldown", "5s")

	viper.SetDefault("idempotency.enforce", false)
	viper.SetDefault("idempotency.lock_ttl", "30s")
	viper.SetDefault("idempotency.response_ttl", "24h")
	viper.SetDefault("idempotency.cache_size", 4096)
	viper.SetDefault("idempotency.coalesce_enabled", true)
	viper.SetDefault("idempotency.coalesce_max_batch", 100)
	viper.SetDefault("idempotency.coalesce_max_wait_time", "10ms")
}

// GetServerAddress returns the server address string.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetClickHouseURL returns the ClickHouse connection URL.
// The URL includes x-multi-statement=true to allow migrations with multiple SQL statements.
func (c *Config) GetClickHouseURL() string {
	if c.ClickHouse.URL != "" {
		if !strings.Contains(c.ClickHouse.URL, "x-multi-statement") {
			separator := "?"
			if strings.Contains(c.ClickHouse.URL, "?") {
				separator = "&"
			}
			return c.ClickHouse.URL + separator + "x-multi-statement=true"
		}
		return c.ClickHouse.URL
	}

	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?x-multi-statement=true",
		c.ClickHouse.User, c.ClickHouse.Password, c.ClickHouse.Host,
		c.ClickHouse.Port, c.ClickHouse.Database)
}

// GetRedisURL returns the Redis connection URL.
func (c *Config) GetRedisURL() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}

	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password, c.Redis.Host, c.Redis.Port, c.Redis.Database)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host, c.Redis.Port, c.Redis.Database)
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
