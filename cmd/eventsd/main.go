package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fleet-monitor/events/internal/auth"
	"fleet-monitor/events/internal/cache"
	"fleet-monitor/events/internal/config"
	"fleet-monitor/events/internal/pipeline"
	"fleet-monitor/events/internal/ratelimit"
	"fleet-monitor/events/internal/speedlimit"
	"fleet-monitor/events/internal/store"
	transport "fleet-monitor/events/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("eventsd exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		logConfig = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting eventsd",
		zap.String("port", cfg.HTTPPort),
		zap.String("pacer_scope", cfg.PacerScope),
		zap.Bool("redis", cfg.RedisEnabled),
		zap.Bool("timescale", cfg.DBEnabled),
	)

	// Optional backends. Interfaces stay nil when a backend is disabled.
	var (
		shared    speedlimit.Shared
		keyStore  auth.KeyStore
		replay    transport.ReplaySource
		feed      transport.EventFeed
		publisher *pipeline.Publisher
		archive   *pipeline.ArchiveWriter
	)
	checks := map[string]transport.HealthCheck{}

	if cfg.RedisEnabled {
		redis, err := store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer redis.Close()
		shared, keyStore, feed = redis, redis, redis
		publisher = pipeline.NewPublisher(redis, logger)
		checks["redis"] = redis.Ping
	}

	if cfg.DBEnabled {
		db, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		replay = db
		checks["timescale"] = db.Ping
		if publisher != nil {
			archive = pipeline.NewArchiveWriter(db, cfg.ArchiveChannelSize, cfg.ArchiveBatchSize, cfg.ArchiveFlush, logger)
			publisher.WithArchive(archive)
		}
	}

	// Workers run until shutdown; the archive drains after the HTTP server stops.
	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	limits := cache.New[int]()
	go limits.Run(workers, cfg.CacheSweepInterval)

	apiKeys := cache.New[string]()
	go apiKeys.Run(workers, cfg.CacheSweepInterval)

	archiveDone := make(chan struct{})
	if archive != nil {
		go func() {
			archive.Run(workers)
			close(archiveDone)
		}()
	} else {
		close(archiveDone)
	}

	provider := speedlimit.NewOverpassProvider(
		&http.Client{Timeout: cfg.SpeedLimitTimeout * 2},
		cfg.OverpassURL,
		cfg.OverpassRadiusMeters,
	)
	resolver := speedlimit.NewResolver(provider, limits, shared, speedlimit.Options{
		DefaultLimit:  cfg.SpeedLimitDefault,
		Timeout:       cfg.SpeedLimitTimeout,
		TTL:           cfg.SpeedLimitTTL,
		StaleFraction: cfg.StaleFraction,
	}, logger)

	pacers := ratelimit.NewFactory(ratelimit.Scope(cfg.PacerScope), cfg.PacerInterval)
	fleet := pipeline.NewFleet(pipeline.NewOverspeed(resolver, pacers, logger), publisher, logger)

	api := transport.NewServer(fleet, replay, auth.NewAuthenticator(cfg, keyStore, apiKeys, logger), logger)
	for name, check := range checks {
		api.AddHealthCheck(name, check)
	}
	if feed != nil {
		api.SetEventFeed(feed)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	fleet.Close()
	resolver.Wait()
	cancelWorkers()
	<-archiveDone

	logger.Info("eventsd stopped")
	return nil
}
