package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/config"
	"github.com/radiusdt/clickpath/internal/database"
	"github.com/radiusdt/clickpath/internal/httpserver"
	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/middleware"
	"github.com/radiusdt/clickpath/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	format := cfg.Log.Format
	if cfg.IsDevelopment() {
		format = "console"
	}
	logger, err := middleware.NewLogger(cfg.Log.Level, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting clickpath",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	// Postgres is the primary store; without it the tracker degrades
	// to in-memory storage.
	var db *database.PostgresDB
	db, err = database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		logger.Info("connected to PostgreSQL")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := storage.EnsureSchema(ctx, db.Pool); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		cancel()
	}

	var redis *database.RedisDB
	redis, err = database.NewRedisDB(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis not available, live stats disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
		logger.Info("connected to Redis")
	}

	var clickhouse *database.ClickHouseDB
	if cfg.ClickHouse.Enabled {
		clickhouse, err = database.NewClickHouseDB(cfg.ClickHouse.DSN)
		if err != nil {
			logger.Warn("ClickHouse not available, event archive disabled", zap.Error(err))
			clickhouse = nil
		} else {
			defer clickhouse.Close()
			logger.Info("connected to ClickHouse")
		}
	}

	server := httpserver.NewServer(&httpserver.Dependencies{
		DB:         db,
		Redis:      redis,
		ClickHouse: clickhouse,
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics.NewMetrics("clickpath"),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	server.Shutdown()

	logger.Info("server stopped")
}
