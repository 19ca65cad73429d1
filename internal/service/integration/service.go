package integration

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"visitor-relay/internal/database"
	"visitor-relay/internal/model"
	"visitor-relay/utils"
)

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation_error"
	ErrorCodeNotFound   ErrorCode = "not_found"
	ErrorCodeConflict   ErrorCode = "conflict"
	ErrorCodePlatform   ErrorCode = "platform_error"
	ErrorCodeInternal   ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ForumVerifier confirms a bot can open topics in a chat.
type ForumVerifier interface {
	VerifyForum(ctx context.Context, botToken string, chatID int64) (string, error)
}

// KeyIndex is the shared apiKey -> tenant index that must forget revoked
// keys.
type KeyIndex interface {
	Forget(ctx context.Context, apiKey string) error
}

type RegisterParams struct {
	TenantID string
	ChatID   int64
	BotToken string
}

// Integration is a tenant's widget key bound to a chat. The bot token is
// never returned.
type Integration struct {
	APIKey    string    `json:"apiKey"`
	TenantID  string    `json:"tenantId"`
	ChatID    int64     `json:"chatId"`
	ChatTitle string    `json:"chatTitle,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	repo     Repository
	verifier ForumVerifier
	index    KeyIndex
	now      func() time.Time
	logger   *slog.Logger
}

func New(db *database.Database, verifier ForumVerifier, index KeyIndex, logger *slog.Logger) *Service {
	return NewWithRepository(NewDynamoRepository(db), verifier, index, time.Now, logger)
}

func NewWithRepository(repo Repository, verifier ForumVerifier, index KeyIndex, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		verifier: verifier,
		index:    index,
		now:      now,
		logger:   logger.With("component", "integration"),
	}
}

// Register issues a new API key for the tenant after checking that the bot
// can post topics into the chat.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Integration, error) {
	params.TenantID = strings.TrimSpace(params.TenantID)
	params.BotToken = strings.TrimSpace(params.BotToken)
	if params.TenantID == "" {
		return Integration{}, newError(ErrorCodeValidation, "tenantId is required", nil)
	}
	if params.ChatID == 0 {
		return Integration{}, newError(ErrorCodeValidation, "chatId is required", nil)
	}
	if params.BotToken == "" {
		return Integration{}, newError(ErrorCodeValidation, "botToken is required", nil)
	}

	var title string
	if s.verifier != nil {
		t, err := s.verifier.VerifyForum(ctx, params.BotToken, params.ChatID)
		if err != nil {
			return Integration{}, newError(ErrorCodePlatform, "bot cannot create topics in this chat", err)
		}
		title = t
	}

	item, err := s.create(ctx, params)
	if err != nil {
		return Integration{}, err
	}
	result := toIntegration(item)
	result.ChatTitle = title
	s.logger.Info("integration registered", "tenant_id", item.TenantID, "chat_id", item.ChatID)
	return result, nil
}

func (s *Service) create(ctx context.Context, params RegisterParams) (model.TenantIntegrationItem, error) {
	item := model.TenantIntegrationItem{
		APIKey:    utils.GenerateAPIKey(),
		TenantID:  params.TenantID,
		Status:    model.IntegrationStatusActive,
		ChatID:    params.ChatID,
		BotToken:  params.BotToken,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.repo.CreateIntegration(ctx, item); err != nil {
		if errors.Is(err, ErrConflict) {
			return model.TenantIntegrationItem{}, newError(ErrorCodeConflict, "api key collision, retry", err)
		}
		return model.TenantIntegrationItem{}, newError(ErrorCodeInternal, "failed to store integration", err)
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]Integration, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, newError(ErrorCodeValidation, "tenantId is required", nil)
	}

	items, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list integrations", err)
	}

	out := make([]Integration, 0, len(items))
	for _, item := range items {
		out = append(out, toIntegration(item))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Revoke deactivates apiKey. Servers stop accepting it once their cached
// config expires.
func (s *Service) Revoke(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return newError(ErrorCodeValidation, "apiKey is required", nil)
	}

	if err := s.repo.SetStatus(ctx, apiKey, model.IntegrationStatusRevoked, s.now().UTC().Format(time.RFC3339)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(ErrorCodeNotFound, "integration not found", err)
		}
		return newError(ErrorCodeInternal, "failed to revoke integration", err)
	}

	if s.index != nil {
		if err := s.index.Forget(ctx, apiKey); err != nil {
			s.logger.Warn("failed to drop revoked key from index", "error", err)
		}
	}
	s.logger.Info("integration revoked")
	return nil
}

// Rotate issues a replacement key for the same tenant and chat, then revokes
// the old one.
func (s *Service) Rotate(ctx context.Context, apiKey string) (Integration, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Integration{}, newError(ErrorCodeValidation, "apiKey is required", nil)
	}

	current, err := s.repo.GetIntegration(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Integration{}, newError(ErrorCodeNotFound, "integration not found", err)
		}
		return Integration{}, newError(ErrorCodeInternal, "failed to load integration", err)
	}
	if current.Status != model.IntegrationStatusActive {
		return Integration{}, newError(ErrorCodeConflict, "integration is not active", nil)
	}

	item, err := s.create(ctx, RegisterParams{
		TenantID: current.TenantID,
		ChatID:   current.ChatID,
		BotToken: current.BotToken,
	})
	if err != nil {
		return Integration{}, err
	}
	if err := s.Revoke(ctx, apiKey); err != nil {
		return Integration{}, err
	}
	return toIntegration(item), nil
}

func toIntegration(item model.TenantIntegrationItem) Integration {
	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	return Integration{
		APIKey:    item.APIKey,
		TenantID:  item.TenantID,
		ChatID:    item.ChatID,
		Status:    item.Status,
		CreatedAt: createdAt,
	}
}
