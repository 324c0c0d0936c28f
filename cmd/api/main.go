package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"checkpoint-sync-api/internal/blob"
	"checkpoint-sync-api/internal/cache"
	"checkpoint-sync-api/internal/config"
	"checkpoint-sync-api/internal/handler"
	"checkpoint-sync-api/internal/logger"
	"checkpoint-sync-api/internal/metrics"
	"checkpoint-sync-api/internal/repository"
	"checkpoint-sync-api/internal/router"
	"checkpoint-sync-api/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting checkpoint sync api",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// Initialize save repository based on config
	repo, err := openRepository(cfg.Database, log.Named("repository"))
	if err != nil {
		log.Fatal("failed to initialize save repository", zap.Error(err))
	}

	// Initialize blob store based on config
	blobs, err := openBlobStore(cfg.Blob, log.Named("blob"))
	if err != nil {
		repo.Close()
		log.Fatal("failed to initialize blob store", zap.Error(err))
	}

	// Title listing cache is optional; the service falls back to the database.
	listings := openCache(cfg.Cache, log.Named("cache"))

	saves := service.NewSaveService(repo, blobs, listings, service.SaveServiceConfig{
		ListingTTL: cfg.Cache.TTL,
	}, log.Named("saves"))

	var sweeper *service.BlobSweeper
	if cfg.Sweeper.Enabled {
		sweeper = service.NewBlobSweeper(blobs, repo, service.SweeperConfig{
			Grace:        cfg.Sweeper.Grace,
			Interval:     cfg.Sweeper.Interval,
			InitialDelay: time.Minute,
		}, log.Named("sweeper"))
		sweeper.Start()
	}

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Version, map[string]handler.Pinger{"database": repo})
	saveHandler := handler.NewSaveHandler(saves, cfg.Server.MaxUploadBytes, log.Named("http"))

	// Create router
	r := router.New(router.Config{
		Handler:           healthHandler,
		SaveHandler:       saveHandler,
		Logger:            log.Named("http"),
		MetricsHandler:    promhttp.Handler(),
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	// Stop background work before the pool it uses goes away.
	if sweeper != nil {
		sweeper.Stop()
	}
	if listings != nil {
		if err := listings.Close(); err != nil {
			log.Warn("cache close error", zap.Error(err))
		}
	}
	if err := repo.Close(); err != nil {
		log.Error("database close error", zap.Error(err))
	}

	log.Info("server stopped")
}

func openRepository(cfg config.DatabaseConfig, log *zap.Logger) (*repository.SQLSaveRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := repository.Options{Timeout: cfg.Timeout, Logger: log}

	switch cfg.Type {
	case "mysql":
		db, err := repository.OpenMySQL(cfg)
		if err != nil {
			return nil, err
		}
		opts.Dialect = repository.DialectMySQL
		repo, err := repository.NewSQLSaveRepository(ctx, db, opts)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info("MySQL save repository initialized", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
		return repo, nil
	default: // sqlite
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := repository.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		opts.Dialect = repository.DialectSQLite
		repo, err := repository.NewSQLSaveRepository(ctx, db, opts)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info("SQLite save repository initialized", zap.String("path", cfg.Path))
		return repo, nil
	}
}

func openBlobStore(cfg config.BlobConfig, log *zap.Logger) (blob.Store, error) {
	switch cfg.Backend {
	case "minio":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return blob.NewMinIOStore(ctx, blob.MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			UseSSL:          cfg.UseSSL,
		}, log)
	default: // disk
		return blob.NewDiskStore(cfg.Dir, log)
	}
}

func openCache(cfg config.CacheConfig, log *zap.Logger) cache.Cache {
	switch cfg.Type {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, title listings will not be cached", zap.Error(err))
			return nil
		}
		return c
	case "memory":
		return cache.NewMemoryCache(cfg.TTL)
	default: // none
		return nil
	}
}
