package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"visitor-relay/internal/model"
)

// Platform is the messaging side: forum-style threads inside a chat.
type Platform interface {
	CreateThread(ctx context.Context, botToken string, chatID int64, name string) (int64, error)
	PostMessage(ctx context.Context, botToken string, chatID, threadID int64, text string) (int64, error)
}

type Resolution struct {
	Thread    model.ThreadItem
	ThreadID  int64
	Returning bool
	// PreviousPageURL is the last page recorded before this event.
	PreviousPageURL string
	Created         bool
	Legacy          bool
}

// ThreadResolver maps a visitor to exactly one platform thread per chat.
type ThreadResolver struct {
	repo     Repository
	platform Platform
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
}

func NewThreadResolver(repo Repository, platform Platform, now func() time.Time, logger *slog.Logger, metrics *Metrics) *ThreadResolver {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadResolver{
		repo:     repo,
		platform: platform,
		now:      now,
		logger:   logger.With("component", "thread_resolver"),
		metrics:  metrics,
	}
}

// Resolve looks up the chat-scoped mapping, then the legacy unscoped one, and
// creates a new platform thread only when both are missing.
func (r *ThreadResolver) Resolve(ctx context.Context, visitorID string, cfg TenantConfig) (Resolution, error) {
	pk := model.ThreadPK(visitorID, cfg.ChatID)

	thread, err := r.repo.GetThread(ctx, pk)
	switch {
	case err == nil:
		r.metrics.observeResolution("existing")
		return existingResolution(thread, false), nil
	case !errors.Is(err, ErrNotFound):
		return Resolution{}, newError(ErrorCodeStoreUnavailable, "failed to load visitor thread", err)
	}

	legacy, err := r.repo.GetThread(ctx, model.ThreadPK(visitorID, 0))
	switch {
	case err == nil && (legacy.ChatID == 0 || legacy.ChatID == cfg.ChatID):
		r.metrics.observeResolution("legacy")
		return existingResolution(legacy, true), nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return Resolution{}, newError(ErrorCodeStoreUnavailable, "failed to load legacy visitor thread", err)
	}

	return r.create(ctx, visitorID, cfg, pk)
}

func (r *ThreadResolver) create(ctx context.Context, visitorID string, cfg TenantConfig, pk string) (Resolution, error) {
	threadID, err := r.platform.CreateThread(ctx, cfg.BotToken, cfg.ChatID, ThreadName(visitorID))
	if err != nil {
		r.metrics.observeResolution("failed")
		return Resolution{}, newError(ErrorCodeThreadCreationFailed, "failed to create visitor thread", err)
	}

	now := r.now().UTC().Format(time.RFC3339)
	thread := model.ThreadItem{
		PK:        pk,
		VisitorID: visitorID,
		TenantID:  cfg.TenantID,
		ChatID:    cfg.ChatID,
		TopicID:   threadID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.repo.CreateThread(ctx, thread)
	if err == nil {
		r.metrics.observeResolution("created")
		r.logger.Info("visitor thread created", "tenant_id", cfg.TenantID, "visitor_id", visitorID, "thread_id", threadID)
		return Resolution{Thread: thread, ThreadID: threadID, Created: true}, nil
	}
	if !errors.Is(err, ErrDuplicateThread) {
		r.logger.Warn("orphaned platform thread", "tenant_id", cfg.TenantID, "visitor_id", visitorID, "thread_id", threadID, "error", err)
		return Resolution{}, newError(ErrorCodeStoreUnavailable, "failed to store visitor thread", err)
	}

	// Another process won the race. Its row is authoritative and the thread
	// created above stays orphaned on the platform.
	winner, readErr := r.repo.GetThread(ctx, pk)
	if readErr != nil {
		r.logger.Error("duplicate thread without readable mapping", "tenant_id", cfg.TenantID, "visitor_id", visitorID, "thread_id", threadID, "error", readErr)
		return Resolution{}, newError(ErrorCodeInternal, "failed to recover visitor thread", readErr)
	}
	r.metrics.observeResolution("recovered")
	r.logger.Warn("orphaned platform thread", "tenant_id", cfg.TenantID, "visitor_id", visitorID, "thread_id", threadID, "winner_thread_id", winner.TopicID)

	// The winner announces the new visitor, so this event reads as returning.
	return existingResolution(winner, false), nil
}

func existingResolution(thread model.ThreadItem, legacy bool) Resolution {
	return Resolution{
		Thread:          thread,
		ThreadID:        thread.TopicID,
		Returning:       true,
		PreviousPageURL: thread.PageURL,
		Legacy:          legacy,
	}
}

// ThreadName is the platform thread title for a visitor.
func ThreadName(visitorID string) string {
	short := visitorID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Visitor " + short
}
