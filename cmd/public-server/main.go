package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"visitor-relay/internal/api"
	"visitor-relay/internal/api/router"
	"visitor-relay/internal/database"
	"visitor-relay/internal/env"
	"visitor-relay/internal/janitor"
	"visitor-relay/internal/queue"
	"visitor-relay/internal/service/tracking"
	"visitor-relay/internal/telegram"
	"visitor-relay/internal/websocket"
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

	platform := telegram.NewClient(cfg.TelegramAPIEndpoint, cfg.TelegramTimeout, logger)

	service := tracking.New(db, platform, tracking.Options{
		Throttle: tracking.ThrottleConfig{
			Delay:       cfg.ThrottleDelay,
			MaxBurst:    cfg.ThrottleMaxBurst,
			HistorySize: cfg.ThrottleHistory,
			IdleTTL:     cfg.ThrottleIdleTTL,
			PurgeChance: cfg.ThrottlePurge,
		},
		ConfigCache: tracking.ConfigCacheOptions{
			TTL:         cfg.ConfigCacheTTL,
			NegativeTTL: cfg.ConfigNegativeTTL,
			Capacity:    cfg.ConfigCacheCapacity,
		},
		FlightTimeout:   cfg.FlightTimeout,
		SessionCacheTTL: cfg.SessionCacheTTL,
		KeyIndex:        tracking.NewRedisKeyIndex(redisClient, cfg.APIKeyIndexTTL),
		Activity:        websocket.NewPublisher(redisClient),
		Logger:          logger,
	})

	sweeper := janitor.New(cfg.JanitorSchedule, nil, logger)
	sweeper.Register("throttle", service.Throttle())
	sweeper.Register("config", service.Configs())
	sweeper.Register("session", service.Sessions())
	if err := sweeper.Start(); err != nil {
		logger.Error("janitor start failed", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.QueueWorkers, logger)
	defer queueManager.Shutdown()

	server := api.NewAPIServer(
		cfg.PublicListenAddr,
		queueManager,
		api.Dependencies{
			Tracking:       service,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		},
		router.UtilsRoutes("/api/public/v1"),
		router.TrackingPublicRoutes("/api/public/v1"),
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
