package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"visitor-relay/internal/model"
)

type memoryRepository struct {
	mu    sync.Mutex
	items map[string]model.TenantIntegrationItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{items: make(map[string]model.TenantIntegrationItem)}
}

func (m *memoryRepository) CreateIntegration(ctx context.Context, item model.TenantIntegrationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.APIKey]; ok {
		return ErrConflict
	}
	m.items[item.APIKey] = item
	return nil
}

func (m *memoryRepository) GetIntegration(ctx context.Context, apiKey string) (model.TenantIntegrationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[apiKey]
	if !ok {
		return model.TenantIntegrationItem{}, ErrNotFound
	}
	return item, nil
}

func (m *memoryRepository) ListByTenant(ctx context.Context, tenantID string) ([]model.TenantIntegrationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TenantIntegrationItem
	for _, item := range m.items {
		if item.TenantID == tenantID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memoryRepository) SetStatus(ctx context.Context, apiKey, status, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[apiKey]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.UpdatedAt = updatedAt
	m.items[apiKey] = item
	return nil
}

type fakeVerifier struct {
	err error
}

func (f fakeVerifier) VerifyForum(ctx context.Context, botToken string, chatID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Shop visitors", nil
}

type recordingIndex struct {
	forgotten []string
}

func (r *recordingIndex) Forget(ctx context.Context, apiKey string) error {
	r.forgotten = append(r.forgotten, apiKey)
	return nil
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestService(repo Repository, verifier ForumVerifier, index KeyIndex) *Service {
	clock := &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewWithRepository(repo, verifier, index, clock.now, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterIssuesKey(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(repo, fakeVerifier{}, nil)

	got, err := svc.Register(context.Background(), RegisterParams{TenantID: "tenant-1", ChatID: -100, BotToken: "token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.HasPrefix(got.APIKey, "vr_") || got.Status != model.IntegrationStatusActive || got.ChatTitle != "Shop visitors" {
		t.Fatalf("unexpected integration %+v", got)
	}

	stored, err := repo.GetIntegration(context.Background(), got.APIKey)
	if err != nil {
		t.Fatalf("stored integration missing: %v", err)
	}
	if stored.BotToken != "token" || stored.ChatID != -100 {
		t.Fatalf("unexpected stored item %+v", stored)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(newMemoryRepository(), fakeVerifier{}, nil)

	cases := []RegisterParams{
		{ChatID: -100, BotToken: "token"},
		{TenantID: "tenant-1", BotToken: "token"},
		{TenantID: "tenant-1", ChatID: -100, BotToken: "  "},
	}
	for _, params := range cases {
		_, err := svc.Register(context.Background(), params)
		var svcErr *Error
		if !errors.As(err, &svcErr) || svcErr.Code != ErrorCodeValidation {
			t.Fatalf("expected validation error for %+v, got %v", params, err)
		}
	}
}

func TestRegisterRejectsChatWithoutTopics(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(repo, fakeVerifier{err: errors.New("not a forum")}, nil)

	_, err := svc.Register(context.Background(), RegisterParams{TenantID: "tenant-1", ChatID: -1, BotToken: "token"})
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Code != ErrorCodePlatform {
		t.Fatalf("expected platform error, got %v", err)
	}
	if len(repo.items) != 0 {
		t.Fatalf("integration stored despite failed verification")
	}
}

func TestRotateRevokesOldKey(t *testing.T) {
	repo := newMemoryRepository()
	index := &recordingIndex{}
	svc := newTestService(repo, fakeVerifier{}, index)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterParams{TenantID: "tenant-1", ChatID: -100, BotToken: "token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	second, err := svc.Rotate(ctx, first.APIKey)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if second.APIKey == first.APIKey || second.ChatID != first.ChatID || second.TenantID != first.TenantID {
		t.Fatalf("unexpected rotated integration %+v", second)
	}

	old, _ := repo.GetIntegration(ctx, first.APIKey)
	if old.Status != model.IntegrationStatusRevoked {
		t.Fatalf("old key still %q", old.Status)
	}
	if len(index.forgotten) != 1 || index.forgotten[0] != first.APIKey {
		t.Fatalf("revoked key not dropped from index: %v", index.forgotten)
	}

	if _, err := svc.Rotate(ctx, first.APIKey); err == nil {
		t.Fatalf("expected rotating a revoked key to fail")
	}

	list, err := svc.List(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].APIKey != second.APIKey {
		t.Fatalf("expected newest integration first, got %+v", list)
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	svc := newTestService(newMemoryRepository(), fakeVerifier{}, nil)

	err := svc.Revoke(context.Background(), "vr_missing")
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Code != ErrorCodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
