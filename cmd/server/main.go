package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/leaderboard-sync/internal/config"
	"github.com/leaderboard-sync/internal/handler"
	"github.com/leaderboard-sync/internal/kafka"
	"github.com/leaderboard-sync/internal/metrics"
	"github.com/leaderboard-sync/internal/postgres"
	"github.com/leaderboard-sync/internal/redis"
	"github.com/leaderboard-sync/internal/service"
	"github.com/leaderboard-sync/internal/websocket"
	"github.com/leaderboard-sync/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("config file not found, using defaults", "path", *configPath)
		cfg = config.DefaultConfig()
	default:
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// PostgreSQL is the system of record; nothing works without it
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Redis may be down; the service starts degraded and heals on recovery
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	cache := redis.NewRankCache(&cfg.Redis, logger, m)
	defer cache.Close()

	leaderboardService := service.NewLeaderboardService(repo, cache, &cfg.Leaderboard, logger, m)
	warmer := worker.NewWarmer(repo, cache, &cfg.Warmup, logger, m)
	warmer.SetPageLock(leaderboardService.CacheWriteLock())
	leaderboardService.SetRecoveryHandler(func() { warmer.TriggerAsync(ctx) })

	// record the initial cache state so a later recovery is noticed
	if !leaderboardService.ProbeCache(ctx) {
		logger.Warn("rank cache unavailable at startup, serving degraded responses")
	} else if cfg.Warmup.OnStartup {
		if _, err := warmer.Rebuild(ctx); err != nil {
			logger.Warn("startup cache warmup failed", "error", err)
		}
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	leaderboardService.AddNotifier(wsHub)

	var publisher *kafka.Publisher
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		if cfg.Kafka.PublishEvents {
			publisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
			if err != nil {
				logger.Warn("failed to create Kafka publisher, continuing without events", "error", err)
			} else {
				leaderboardService.AddNotifier(publisher)
				logger.Info("publishing leaderboard events", "topic", cfg.Kafka.EventsTopic)
			}
		}

		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	var scheduler *worker.ResetScheduler
	if cfg.Reset.Enabled {
		scheduler, err = worker.NewResetScheduler(leaderboardService, &cfg.Reset, logger)
		if err != nil {
			return fmt.Errorf("creating reset scheduler: %w", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting reset scheduler: %w", err)
		}
	}

	httpHandler := handler.NewHandler(leaderboardService, warmer, repo, wsHub, m, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(cfg.Metrics.Path),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// stop intake first so in-flight work drains against live stores
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			logger.Error("failed to stop reset scheduler", "error", err)
		}
	}

	wsHub.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	logger.Info("server stopped")
	return runErr
}
