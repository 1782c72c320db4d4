// Command apiserver serves the LeafSight HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"

	diagnosisapp "github.com/turtacn/LeafSight/internal/application/diagnosis"
	"github.com/turtacn/LeafSight/internal/bootstrap"
	"github.com/turtacn/LeafSight/internal/config"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/LeafSight/internal/interfaces/http"
	"github.com/turtacn/LeafSight/internal/interfaces/http/handlers"
	"github.com/turtacn/LeafSight/internal/interfaces/http/middleware"
)

// version is injected via ldflags.
var version = "dev"

const serviceName = "LeafSight Plant Disease Detection API"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	envFile := flag.String("env-file", "", "dotenv file to load (default: ./.env when present)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *envFile, *port); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, port int) error {
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
	if port > 0 {
		cfg.Server.Port = port
	}

	logger, err := logging.NewLogger(cfg.Log.Logging())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

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

	svc := diagnosisapp.NewService(engine, logger, append(be.Options, diagnosisapp.WithMetrics(metrics))...)

	routerCfg := httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(serviceName, version,
			handlers.WithCheckers(be.Checkers...),
			handlers.WithHealthMetrics(metrics),
		),
		DiagnosisHandler: handlers.NewDiagnosisHandler(svc, handlers.UploadConfig{
			MaxBytes:          cfg.Server.MaxUploadBytes,
			AllowedExtensions: cfg.Server.AllowedExtensions,
		}, metrics, logger),
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
		Metrics:        metrics,
	}
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.Server.CORSOrigins
	routerCfg.CORS = &cors
	logCfg := middleware.DefaultLoggingConfig()
	routerCfg.Logging = &logCfg
	if cfg.Metrics.Enabled {
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		rl.IdleTTL = cfg.RateLimit.IdleTTL
		routerCfg.RateLimiter = limiter
		routerCfg.RateLimit = rl
	}

	if configPath != "" {
		watchConfig(configPath, limiter, logger)
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpserver.NewRouter(routerCfg), logger)

	logger.Info("starting LeafSight API server",
		logging.String("version", version),
		logging.String("addr", cfg.Server.Addr()),
		logging.Bool("redis", cfg.Redis.Enabled),
		logging.Bool("minio", cfg.MinIO.Enabled),
		logging.Bool("kafka", cfg.Kafka.Enabled),
		logging.Bool("postgres", cfg.Postgres.Enabled),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down API server")
	}

	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
		return err
	}
	logger.Info("API server stopped")
	return nil
}

// watchConfig applies rate-limit changes from the config file at runtime.
// Other settings need a restart.
func watchConfig(path string, limiter *middleware.IPRateLimiter, logger logging.Logger) {
	err := config.Watch(path, func(cfg *config.Config, e fsnotify.Event) {
		logger.Info("configuration file changed", logging.String("path", e.Name))
		if limiter != nil && cfg.RateLimit.Enabled {
			limiter.SetLimits(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
			logger.Info("rate limits updated",
				logging.Float64("requests_per_second", cfg.RateLimit.RequestsPerSecond),
				logging.Int("burst", cfg.RateLimit.Burst),
			)
		}
	}, func(err error) {
		logger.Warn("ignoring invalid configuration change", logging.Err(err))
	})
	if err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}
}
