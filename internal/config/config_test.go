package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LeafSight/internal/config"
)

// validConfig returns a Config that passes Validate() with every optional
// backend enabled.
func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Redis.Enabled = true
	cfg.MinIO.Enabled = true
	cfg.Kafka.Enabled = true
	cfg.Postgres.Enabled = true
	cfg.Postgres.User = "leafsight"
	cfg.Postgres.Password = "secret"
	cfg.RateLimit.Enabled = true
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Failures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"port zero", func(c *config.Config) { c.Server.Port = 0 }, "server.port"},
		{"port high", func(c *config.Config) { c.Server.Port = 65536 }, "server.port"},
		{"mode", func(c *config.Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"upload cap", func(c *config.Config) { c.Server.MaxUploadBytes = -1 }, "server.max_upload_bytes"},
		{"dotted extension", func(c *config.Config) { c.Server.AllowedExtensions = []string{".png"} }, "server.allowed_extensions"},
		{"spot threshold", func(c *config.Config) { c.Engine.SpotThreshold = 300 }, "engine.spot_threshold"},
		{"inclusion floor", func(c *config.Config) { c.Engine.InclusionFloor = 1.5 }, "engine.inclusion_floor"},
		{"fallback floor", func(c *config.Config) { c.Engine.FallbackFloor = -0.1 }, "engine.fallback_floor"},
		{"top k", func(c *config.Config) { c.Engine.TopK = -1 }, "engine.top_k"},
		{"normalize", func(c *config.Config) { c.Engine.NormalizeSize = -8 }, "engine.normalize_size"},
		{"log level", func(c *config.Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"rate", func(c *config.Config) { c.RateLimit.RequestsPerSecond = -1 }, "ratelimit.requests_per_second"},
		{"burst", func(c *config.Config) { c.RateLimit.Burst = -1 }, "ratelimit.burst"},
		{"redis addr", func(c *config.Config) { c.Redis.Addr = "" }, "redis.addr"},
		{"redis db", func(c *config.Config) { c.Redis.DB = -1 }, "redis.db"},
		{"minio bucket", func(c *config.Config) { c.MinIO.Bucket = "" }, "minio.bucket"},
		{"kafka brokers", func(c *config.Config) { c.Kafka.Brokers = nil }, "kafka.brokers"},
		{"postgres user", func(c *config.Config) { c.Postgres.User = "" }, "postgres.user"},
		{"postgres db", func(c *config.Config) { c.Postgres.DBName = "" }, "postgres.db_name"},
		{"worker", func(c *config.Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_Validate_DisabledSectionsAreSkipped(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Postgres.User = ""
	cfg.MinIO.Bucket = ""
	cfg.Kafka.Brokers = nil
	assert.NoError(t, cfg.Validate())
}

func TestServerConfig_Addr(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "127.0.0.1:5000", config.ServerConfig{Host: "127.0.0.1", Port: 5000}.Addr())
}

func TestLogConfig_Logging(t *testing.T) {
	t.Parallel()
	lc := config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}, Development: true}.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.Equal(t, []string{"stderr"}, lc.OutputPaths)
	assert.True(t, lc.Development)
}
