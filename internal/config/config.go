// Package config defines all configuration structures for the LeafSight
// service.  No I/O or parsing logic lives here: only plain data types and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/intelligence/leafdx"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes    int64    `mapstructure:"max_upload_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// EngineConfig holds inference thresholds and the optional treatment table
// override.
type EngineConfig struct {
	leafdx.Config `mapstructure:",squash"`
	// TreatmentsPath replaces the embedded treatment table when set.
	TreatmentsPath string `mapstructure:"treatments_path"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level            string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format           string   `mapstructure:"format"` // "json" | "console"
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	Development      bool     `mapstructure:"development"`
}

// Logging converts to the logger constructor parameters.
func (l LogConfig) Logging() logging.LogConfig {
	return logging.LogConfig{
		Level:            l.Level,
		Format:           l.Format,
		OutputPaths:      l.OutputPaths,
		ErrorOutputPaths: l.ErrorOutputPaths,
		Development:      l.Development,
	}
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// RateLimitConfig holds the per-client admission limits of the HTTP API.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

// RedisConfig holds Redis connection parameters for the result cache.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters for the
// leaf image archive.
type MinIOConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// KafkaConfig holds Kafka producer/consumer parameters.
type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	ProducerRetries int           `mapstructure:"producer_retries"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	TopicPrefix     string        `mapstructure:"topic_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters for diagnosis
// history.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WorkerConfig holds background-worker execution parameters.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure for the service.  Every
// infrastructure component and application service reads its settings from
// the relevant sub-struct.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.  Sections that are disabled are
// not validated.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("config: server.max_upload_bytes must be ≥ 1, got %d", c.Server.MaxUploadBytes)
	}
	if len(c.Server.AllowedExtensions) == 0 {
		return fmt.Errorf("config: server.allowed_extensions must list at least one extension")
	}
	for _, ext := range c.Server.AllowedExtensions {
		if strings.TrimSpace(ext) == "" || strings.HasPrefix(ext, ".") {
			return fmt.Errorf("config: server.allowed_extensions entry %q must be a bare extension such as \"png\"", ext)
		}
	}

	// Engine
	e := c.Engine
	if e.SpotThreshold <= 0 || e.SpotThreshold >= 255 {
		return fmt.Errorf("config: engine.spot_threshold %g is out of range (0, 255)", e.SpotThreshold)
	}
	if e.InclusionFloor < 0 || e.InclusionFloor > 1 {
		return fmt.Errorf("config: engine.inclusion_floor %g is out of range [0, 1]", e.InclusionFloor)
	}
	if e.FallbackFloor < 0 || e.FallbackFloor > 1 {
		return fmt.Errorf("config: engine.fallback_floor %g is out of range [0, 1]", e.FallbackFloor)
	}
	if e.TopK < 1 {
		return fmt.Errorf("config: engine.top_k must be ≥ 1, got %d", e.TopK)
	}
	if e.NormalizeSize < 0 {
		return fmt.Errorf("config: engine.normalize_size must be ≥ 0, got %d", e.NormalizeSize)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("config: ratelimit.requests_per_second must be > 0, got %g", c.RateLimit.RequestsPerSecond)
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("config: ratelimit.burst must be ≥ 1, got %d", c.RateLimit.Burst)
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}

	// MinIO
	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if c.Postgres.Host == "" {
			return fmt.Errorf("config: postgres.host is required")
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			return fmt.Errorf("config: postgres.port %d is out of range [1, 65535]", c.Postgres.Port)
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("config: postgres.user is required")
		}
		if c.Postgres.DBName == "" {
			return fmt.Errorf("config: postgres.db_name is required")
		}
		if c.Postgres.MaxConns < 1 {
			return fmt.Errorf("config: postgres.max_conns must be ≥ 1, got %d", c.Postgres.MaxConns)
		}
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}

	return nil
}
