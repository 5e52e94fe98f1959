package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/open-tracker/internal/beacon"
	"github.com/ignite/open-tracker/internal/config"
	"github.com/ignite/open-tracker/internal/pkg/logger"
	"github.com/ignite/open-tracker/internal/statscache"
	"github.com/ignite/open-tracker/internal/tracking"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Stats are served from Postgres when the cache is down.
			logger.Warn("redis unavailable, stats cache disabled", "redis", cfg.Redis.Addr, "error", err)
			redisClient = nil
		}
		cancel()
	}

	store := beacon.NewStore(db)
	classifier := beacon.NewClassifier(cfg.Tracking.BotThresholdSeconds, cfg.Tracking.ExtraBotPatterns...)
	svc := beacon.NewService(store, classifier, cfg.Tracking.PublicBaseURL)
	stats := statscache.New(redisClient, store, time.Duration(cfg.Tracking.StatsCacheTTLSeconds)*time.Second)

	pixel := tracking.NewHandler(svc, time.Duration(cfg.Tracking.RecordTimeoutMS)*time.Millisecond)
	api := tracking.NewAPIHandler(svc, stats)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      tracking.Routes(pixel, api),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "listen", addr,
			"bot_threshold_seconds", cfg.Tracking.BotThresholdSeconds)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if redisClient != nil {
		redisClient.Close()
	}
}
