package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"visitor-relay/internal/database"
	"visitor-relay/internal/env"
	"visitor-relay/internal/service/integration"
	"visitor-relay/internal/service/tracking"
	"visitor-relay/internal/telegram"
)

const usage = `usage: integration-admin <command> [flags]

commands:
  register -tenant <id> -chat <chatId> -token <botToken>
  list     -tenant <id>
  rotate   -key <apiKey>
  revoke   -key <apiKey>
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	chatID := fs.Int64("chat", 0, "telegram forum chat id")
	botToken := fs.String("token", "", "telegram bot token")
	apiKey := fs.String("key", "", "widget api key")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := env.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}

	var index integration.KeyIndex
	if redisClient, err := database.NewRedisClient(ctx, cfg); err != nil {
		logger.Warn("redis unavailable, revoked keys stay indexed until they expire", "error", err)
	} else {
		defer redisClient.Close()
		index = tracking.NewRedisKeyIndex(redisClient, cfg.APIKeyIndexTTL)
	}

	platform := telegram.NewClient(cfg.TelegramAPIEndpoint, cfg.TelegramTimeout, logger)
	service := integration.New(db, platform, index, logger)

	switch args[0] {
	case "register":
		created, err := service.Register(ctx, integration.RegisterParams{
			TenantID: *tenantID,
			ChatID:   *chatID,
			BotToken: *botToken,
		})
		if err != nil {
			return err
		}
		return printJSON(created)
	case "list":
		list, err := service.List(ctx, *tenantID)
		if err != nil {
			return err
		}
		return printJSON(list)
	case "rotate":
		rotated, err := service.Rotate(ctx, *apiKey)
		if err != nil {
			return err
		}
		return printJSON(rotated)
	case "revoke":
		if err := service.Revoke(ctx, *apiKey); err != nil {
			return err
		}
		return printJSON(map[string]string{"status": "revoked"})
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
