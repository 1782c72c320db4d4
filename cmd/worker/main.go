// Command worker diagnoses archived leaf images requested over Kafka.
//
// Each of the configured number of workers owns one consumer in the shared
// group, so partitions are spread across them and every message is committed
// only after its diagnosis finished or was dead-lettered.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	diagnosisapp "github.com/turtacn/LeafSight/internal/application/diagnosis"
	"github.com/turtacn/LeafSight/internal/bootstrap"
	"github.com/turtacn/LeafSight/internal/config"
	"github.com/turtacn/LeafSight/internal/infrastructure/database/redis"
	"github.com/turtacn/LeafSight/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/LeafSight/internal/interfaces/http"
	"github.com/turtacn/LeafSight/internal/interfaces/http/handlers"
)

// version is injected via ldflags.
var version = "dev"

const serviceName = "LeafSight Diagnosis Worker"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	envFile := flag.String("env-file", "", "dotenv file to load (default: ./.env when present)")
	workers := flag.Int("workers", 0, "number of concurrent consumers (overrides worker.concurrency)")
	healthAddr := flag.String("health-addr", ":8081", "listen address for /healthz, /readyz and metrics")
	flag.Parse()

	if err := run(*configPath, *envFile, *workers, *healthAddr); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, workers int, healthAddr string) error {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	var loadOpts []config.LoadOption
	if configPath != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(configPath))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Worker.Concurrency = workers
	}
	if !cfg.Kafka.Enabled || !cfg.MinIO.Enabled {
		return fmt.Errorf("worker requires kafka.enabled and minio.enabled")
	}

	logger, err := logging.NewLogger(cfg.Log.Logging())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.Named("worker")

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	metrics := prometheus.NewAppMetrics(collector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.NewEngine(cfg.Engine, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	be, err := bootstrap.NewBackends(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	topics := cfg.Kafka.Topics()
	ensureTopics(ctx, cfg.Kafka.Brokers, topics, logger)

	svc := diagnosisapp.NewService(engine, logger, append(be.Options, diagnosisapp.WithMetrics(metrics))...)
	h := &jobHandler{
		svc:             svc,
		deadLetter:      be.Producer,
		deadLetterTopic: cfg.WorkerConsumer().RetryConfig.DeadLetterTopic,
		timeout:         cfg.Worker.JobTimeout,
		metrics:         metrics,
		logger:          logger,
	}
	if be.Redis != nil {
		h.guard = redis.NewJobGuard(be.Redis, cfg.Redis.KeyPrefix, 2*cfg.Worker.JobTimeout)
	}

	consumers, err := startConsumers(ctx, cfg, be.Producer, h, logger)
	if err != nil {
		return err
	}

	health := handlers.NewHealthHandler(serviceName, version,
		handlers.WithCheckers(be.Checkers...),
		handlers.WithHealthMetrics(metrics),
	)
	r := chi.NewRouter()
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, collector.Handler())
	}
	srv := httpserver.NewServer(httpserver.ServerConfig{
		Addr:            healthAddr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, r, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("worker started",
		logging.String("version", version),
		logging.String("topic", topics.Requested),
		logging.String("group", cfg.Kafka.GroupID),
		logging.Int("workers", len(consumers)),
		logging.Bool("dedupe", h.guard != nil),
		logging.Bool("postgres", cfg.Postgres.Enabled),
	)

	var runErr error
	select {
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("health server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining in-flight jobs")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	stopConsumers(shutdownCtx, consumers, logger)
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	logger.Info("worker stopped")
	return runErr
}

func ensureTopics(ctx context.Context, brokers []string, topics kafka.Topics, logger logging.Logger) {
	tm, err := kafka.NewTopicManager(brokers, logger)
	if err != nil {
		logger.Warn("topic manager unavailable, assuming topics exist", logging.Err(err))
		return
	}
	defer tm.Close()
	if err := tm.EnsureTopics(ctx, kafka.DefaultTopics(topics)); err != nil {
		logger.Warn("failed to ensure topics", logging.Err(err))
	}
}

func startConsumers(ctx context.Context, cfg *config.Config, deadLetter kafka.Publisher, h *jobHandler, logger logging.Logger) ([]*kafka.Consumer, error) {
	consumerCfg := cfg.WorkerConsumer()
	consumers := make([]*kafka.Consumer, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		c, err := kafka.NewConsumer(consumerCfg, deadLetter, logger.With(logging.Int("consumer", i)))
		if err != nil {
			stopConsumers(context.Background(), consumers, logger)
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		for _, topic := range consumerCfg.Topics {
			c.Subscribe(topic, h.Handle)
		}
		if err := c.Start(ctx); err != nil {
			stopConsumers(context.Background(), consumers, logger)
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		consumers = append(consumers, c)
	}
	return consumers, nil
}

// stopConsumers closes every consumer and waits until they finish their
// current message or ctx expires.
func stopConsumers(ctx context.Context, consumers []*kafka.Consumer, logger logging.Logger) {
	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *kafka.Consumer) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				logger.Warn("failed to close consumer", logging.Err(err))
			}
			consumed, processed, failed, _, deadLettered := c.Stats()
			logger.Info("consumer drained",
				logging.Int64("consumed", consumed),
				logging.Int64("processed", processed),
				logging.Int64("failed", failed),
				logging.Int64("dead_lettered", deadLettered),
			)
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded, abandoning in-flight jobs")
	}
}
