package database

import (
	"context"
	"fmt"

	"visitor-relay/internal/env"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient connects to the chat Redis used for the API key index and
// the live activity channels.
func NewRedisClient(ctx context.Context, cfg env.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.ChatRedisURL,
		Password: cfg.ChatRedisPass,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.ChatRedisURL, err)
	}
	return client, nil
}
