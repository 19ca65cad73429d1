package tracking

import (
	"context"
	"log/slog"
	"time"
)

type Notification struct {
	MessageID int64
	ThreadID  int64
	SentAt    time.Time
}

// Dispatcher posts formatted messages into a visitor's thread. It never
// retries; a failed post is reported and the event stays recorded.
type Dispatcher struct {
	platform Platform
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
}

func NewDispatcher(platform Platform, now func() time.Time, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		platform: platform,
		now:      now,
		logger:   logger.With("component", "dispatcher"),
		metrics:  metrics,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, cfg TenantConfig, threadID int64, text string) (Notification, error) {
	messageID, err := d.platform.PostMessage(ctx, cfg.BotToken, cfg.ChatID, threadID, text)
	if err != nil {
		d.metrics.observeNotification("failed")
		d.logger.Warn("notification failed", "tenant_id", cfg.TenantID, "thread_id", threadID, "error", err)
		return Notification{}, newError(ErrorCodeDispatchFailed, "failed to post notification", err)
	}
	d.metrics.observeNotification("sent")
	return Notification{
		MessageID: messageID,
		ThreadID:  threadID,
		SentAt:    d.now(),
	}, nil
}
