package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visitor-relay/internal/api"
	"visitor-relay/internal/api/router"
	"visitor-relay/internal/database"
	"visitor-relay/internal/env"
	"visitor-relay/internal/janitor"
	"visitor-relay/internal/queue"
	"visitor-relay/internal/service/tracking"
	"visitor-relay/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := env.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, cfg)
	if err != nil {
		logger.Error("db init failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	keyIndex := tracking.NewRedisKeyIndex(redisClient, cfg.APIKeyIndexTTL)
	configs := tracking.NewConfigCache(
		tracking.NewDynamoRepository(db),
		keyIndex,
		tracking.ConfigCacheOptions{
			TTL:         cfg.ConfigCacheTTL,
			NegativeTTL: cfg.ConfigNegativeTTL,
			Capacity:    cfg.ConfigCacheCapacity,
		},
		time.Now,
		logger,
	)

	sweeper := janitor.New(cfg.JanitorSchedule, nil, logger)
	sweeper.Register("config", configs)
	if err := sweeper.Start(); err != nil {
		logger.Error("janitor start failed", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	hub := websocket.NewHub(prometheus.DefaultRegisterer)
	go hub.Run(ctx)
	handler := websocket.NewHandler(ctx, hub, redisClient, logger)

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.QueueWorkers, logger)
	defer queueManager.Shutdown()

	server := api.NewAPIServer(
		cfg.WSListenAddr,
		queueManager,
		api.Dependencies{
			Configs:        configs,
			KeyIndex:       keyIndex,
			Handler:        handler,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		},
		router.UtilsRoutes("/api/ws/v1"),
		router.ActivityWebsocketRoutes("/api/ws/v1"),
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
