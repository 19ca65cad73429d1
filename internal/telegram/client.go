package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client posts into Telegram forum topics on behalf of tenant bots. Bots are
// created lazily per token and reused.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "telegram"),
		bots:       make(map[string]*tgbotapi.BotAPI),
	}
}

type forumTopic struct {
	MessageThreadID int64  `json:"message_thread_id"`
	Name            string `json:"name"`
}

// CreateThread opens a forum topic in chatID and returns its thread id.
func (c *Client) CreateThread(ctx context.Context, botToken string, chatID int64, name string) (int64, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("name", name)

	resp, err := c.request(ctx, botToken, "createForumTopic", params)
	if err != nil {
		return 0, err
	}

	var topic forumTopic
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return 0, fmt.Errorf("telegram createForumTopic: decode result: %w", err)
	}
	if topic.MessageThreadID == 0 {
		return 0, errors.New("telegram createForumTopic: empty message_thread_id")
	}
	return topic.MessageThreadID, nil
}

// PostMessage sends an HTML message into the thread and returns its id.
func (c *Client) PostMessage(ctx context.Context, botToken string, chatID, threadID int64, text string) (int64, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", threadID)
	params.AddNonEmpty("text", text)
	params.AddNonEmpty("parse_mode", tgbotapi.ModeHTML)
	params.AddBool("disable_web_page_preview", true)

	resp, err := c.request(ctx, botToken, "sendMessage", params)
	if err != nil {
		return 0, err
	}

	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("telegram sendMessage: decode result: %w", err)
	}
	return int64(msg.MessageID), nil
}

type forumChat struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	IsForum bool   `json:"is_forum"`
}

// VerifyForum checks that the bot can see chatID and that topics are enabled
// there. It returns the chat title.
func (c *Client) VerifyForum(ctx context.Context, botToken string, chatID int64) (string, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)

	resp, err := c.request(ctx, botToken, "getChat", params)
	if err != nil {
		return "", err
	}

	var chat forumChat
	if err := json.Unmarshal(resp.Result, &chat); err != nil {
		return "", fmt.Errorf("telegram getChat: decode result: %w", err)
	}
	if !chat.IsForum {
		return "", fmt.Errorf("telegram getChat: chat %d is not a forum", chatID)
	}
	return chat.Title, nil
}

func (c *Client) request(ctx context.Context, botToken, method string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	bot, err := c.bot(botToken)
	if err != nil {
		return nil, err
	}

	// Shallow copy so the request carries ctx without racing other callers
	// of the shared bot.
	call := *bot
	call.Client = contextClient{ctx: ctx, client: c.httpClient}

	resp, err := call.MakeRequest(method, params)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("telegram api error", "method", method, "code", apiErr.Code, "description", apiErr.Message)
		}
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	return resp, nil
}

func (c *Client) bot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}

	c.mu.Lock()
	bot, ok := c.bots[token]
	c.mu.Unlock()
	if ok {
		return bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.bots[token]; ok {
		return existing, nil
	}
	c.bots[token] = bot
	c.logger.Info("telegram bot ready", "username", bot.Self.UserName)
	return bot, nil
}

type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}
