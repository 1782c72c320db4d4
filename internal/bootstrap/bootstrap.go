// Package bootstrap assembles the engine and the optional backends shared by
// the apiserver and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	diagnosisapp "github.com/turtacn/LeafSight/internal/application/diagnosis"
	"github.com/turtacn/LeafSight/internal/config"
	"github.com/turtacn/LeafSight/internal/infrastructure/database/postgres"
	"github.com/turtacn/LeafSight/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/LeafSight/internal/infrastructure/database/redis"
	"github.com/turtacn/LeafSight/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/internal/infrastructure/storage/minio"
	"github.com/turtacn/LeafSight/internal/intelligence/leafdx"
	"github.com/turtacn/LeafSight/internal/interfaces/http/handlers"
)

// Backends holds the collaborators enabled in the configuration.  Nil
// fields are disabled.
type Backends struct {
	Options  []diagnosisapp.Option
	Checkers []handlers.HealthChecker

	Redis    *redis.Client
	Archive  minio.ImageArchive
	Producer *kafka.Producer

	closers []func() error
	logger  logging.Logger
}

func (b *Backends) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// Close releases backends in reverse order of construction.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warn("failed to close backend", logging.Err(err))
		}
	}
	b.closers = nil
}

// NewEngine builds the inference engine, replacing the embedded treatment
// table when a file is configured.
func NewEngine(cfg config.EngineConfig, metrics *prometheus.AppMetrics, logger logging.Logger) (*leafdx.Engine, error) {
	opts := []leafdx.Option{leafdx.WithLogger(logger.Named("engine"))}
	if metrics != nil {
		opts = append(opts, leafdx.WithRecorder(prometheus.NewDiagnosisRecorder(metrics)))
	}
	if cfg.TreatmentsPath != "" {
		table, err := leafdx.LoadTreatmentFile(cfg.TreatmentsPath)
		if err != nil {
			return nil, err
		}
		logger.Info("treatment table loaded", logging.String("path", cfg.TreatmentsPath), logging.Int("entries", table.Len()))
		opts = append(opts, leafdx.WithTreatments(table))
	}
	return leafdx.NewEngine(cfg.Config, opts...), nil
}

// NewBackends connects every enabled backend.  A backend that fails to
// connect aborts start-up and releases the ones already opened.
func NewBackends(ctx context.Context, cfg *config.Config, metrics *prometheus.AppMetrics, logger logging.Logger) (*Backends, error) {
	b := &Backends{logger: logger}
	fail := func(name string, err error) (*Backends, error) {
		b.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis.Connection(), logger)
		if err != nil {
			return fail("redis", err)
		}
		b.Redis = client
		b.onClose(client.Close)
		b.Checkers = append(b.Checkers, handlers.NewChecker("redis", client.Ping))
		cache := redis.NewResultCache(client, logger,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithDefaultTTL(cfg.Redis.DefaultTTL),
			redis.OnAccess(func(hit bool) { prometheus.RecordCacheAccess(metrics, "result", hit) }),
		)
		b.Options = append(b.Options, diagnosisapp.WithCache(cache))
	}

	if cfg.MinIO.Enabled {
		client, err := minio.NewMinIOClient(ctx, cfg.MinIO.Connection(), logger)
		if err != nil {
			return fail("minio", err)
		}
		b.onClose(client.Close)
		b.Checkers = append(b.Checkers, handlers.NewChecker("minio", client.Ping))
		b.Archive = minio.NewImageArchive(client, logger, minio.WithObserver(func(op string, d time.Duration) {
			if metrics != nil {
				metrics.StorageOpDuration.WithLabelValues(op).Observe(d.Seconds())
			}
		}))
		b.Options = append(b.Options, diagnosisapp.WithArchive(b.Archive))
	}

	if cfg.Kafka.Enabled {
		pc := cfg.Kafka.Producer()
		pc.OnPublish = func(topic string, err error) { prometheus.RecordPublish(metrics, topic, err) }
		producer, err := kafka.NewProducer(pc, logger)
		if err != nil {
			return fail("kafka", err)
		}
		b.Producer = producer
		b.onClose(producer.Close)
		b.Options = append(b.Options, diagnosisapp.WithPublisher(producer, cfg.Kafka.Topics().Completed))
	}

	if cfg.Postgres.Enabled {
		pgCfg := cfg.Postgres.Connection()
		if cfg.Postgres.AutoMigrate {
			if err := Migrate(pgCfg, logger); err != nil {
				return fail("postgres", err)
			}
		}
		conn, err := postgres.NewConnection(ctx, pgCfg, logger)
		if err != nil {
			return fail("postgres", err)
		}
		b.onClose(conn.Close)
		b.Checkers = append(b.Checkers, handlers.NewChecker("postgres", conn.HealthCheck))
		repo := repositories.NewDiagnosisRepo(conn, logger, repositories.WithQueryObserver(
			func(op string, d time.Duration, err error) { prometheus.RecordDBQuery(metrics, op, d, err) },
		))
		b.Options = append(b.Options, diagnosisapp.WithStore(repo))
	}

	return b, nil
}

// Migrate applies every pending schema migration.
func Migrate(cfg postgres.PostgresConfig, logger logging.Logger) error {
	m, err := postgres.NewMigrator(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		return err
	}
	version, _, err := m.Version()
	if err == nil {
		logger.Info("database schema up to date", logging.Int64("version", int64(version)))
	}
	return nil
}
