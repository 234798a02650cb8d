package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
	"github.com/PratikDhanave/event-ingestion-service/internal/auth"
	"github.com/PratikDhanave/event-ingestion-service/internal/batch"
	"github.com/PratikDhanave/event-ingestion-service/internal/config"
	"github.com/PratikDhanave/event-ingestion-service/internal/handlers"
	"github.com/PratikDhanave/event-ingestion-service/internal/health"
	"github.com/PratikDhanave/event-ingestion-service/internal/httpserver"
	"github.com/PratikDhanave/event-ingestion-service/internal/models"
	"github.com/PratikDhanave/event-ingestion-service/internal/ratelimit"
	"github.com/PratikDhanave/event-ingestion-service/internal/store"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP server",
	RunE:  runServe,
}

// runServe boots the service: config, stores, schema, components, HTTP
// server. On SIGINT/SIGTERM it stops accepting requests, then drains both
// batch writers before closing the stores.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return apperr.Wrap(apperr.CodeConfigMissing, "invalid configuration", err)
	}
	log := setupLogging(cfg.LogLevel)
	log.Info("config loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}

	ch, err := store.NewClickHouseStore(ctx, cfg.ClickHouseURL)
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.EnsureSchema(ctx); err != nil {
		return err
	}

	var jwtSecret []byte
	if cfg.JWTSecret != "" {
		jwtSecret = []byte(cfg.JWTSecret)
	} else {
		log.Warn("JWT_SECRET not set, token credentials are disabled")
	}
	resolver := auth.NewResolver(pg, auth.ResolverConfig{
		JWTSecret:     jwtSecret,
		CacheSize:     cfg.CredentialCacheSize,
		CacheTTL:      cfg.CredentialCacheTTL,
		LookupTimeout: cfg.CredentialLookupTimeout,
		Logger:        log,
	})
	go pg.ListenRevocations(ctx, log, func(keyHash string) {
		resolver.Invalidate(keyHash)
		log.Info("api key revoked, cache entry dropped")
	})

	limiter, closeStats, err := newLimiter(cfg, log)
	if err != nil {
		return err
	}
	defer closeStats()
	limiter.StartJanitor(ctx)

	metrics, err := batch.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("batch metrics: %w", err)
	}
	writerCfg := func(stream string) batch.Config {
		return batch.Config{
			Stream:        stream,
			MaxBatchSize:  cfg.BatchMaxSize,
			FlushInterval: cfg.BatchFlushInterval,
			MaxAttempts:   cfg.BatchMaxAttempts,
			WriteTimeout:  cfg.BatchWriteTimeout,
			Logger:        log,
			Metrics:       metrics,
		}
	}
	events := batch.NewWriter[models.Event](batch.SinkFunc[models.Event](ch.WriteEvents), writerCfg("events"))
	tools := batch.NewWriter[models.ToolEvent](batch.SinkFunc[models.ToolEvent](ch.WriteTools), writerCfg("tools"))

	router, err := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Logger:   log,
		Resolver: resolver,
		Limiter:  limiter,
		Events:   events,
		Tools:    tools,
		Health:   health.NewChecker(pg, ch, cfg.HealthProbeTimeout, log),
		Gatherer: prometheus.DefaultGatherer,
		Limits:   handlers.Limits{MaxEvents: cfg.MaxEventsPerRequest},
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop taking requests first so nothing is enqueued after the drain
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	drainErr := errors.Join(events.Shutdown(shutdownCtx), tools.Shutdown(shutdownCtx))
	if drainErr != nil {
		log.Error("batch drain incomplete", "error", drainErr)
	}
	log.Info("server stopped")
	return drainErr
}

// newLimiter builds the limiter and its stats recorders. The returned func
// stops the Redis stats writer, if any.
func newLimiter(cfg config.Config, log *slog.Logger) (*ratelimit.Limiter, func(), error) {
	promStats, err := ratelimit.NewPrometheusStats(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limit metrics: %w", err)
	}
	stats := ratelimit.MultiStats{promStats}
	closeStats := func() {}

	if cfg.RateLimitStatsRedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimitStatsRedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("RATE_LIMIT_STATS_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		redisStats := ratelimit.NewRedisStats(rdb, ratelimit.WithStatsLogger(log))
		stats = append(stats, redisStats)
		closeStats = func() {
			redisStats.Close()
			_ = rdb.Close()
		}
		log.Info("rate limit stats mirrored to redis", "addr", opts.Addr)
	}

	return ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitRefillPerSec,
		ratelimit.WithIdleTTL(cfg.RateLimitIdleTTL),
		ratelimit.WithStats(stats),
	), closeStats, nil
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
