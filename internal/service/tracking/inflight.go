package tracking

import (
	"context"
	"log/slog"
	"time"

	"visitor-relay/internal/model"

	"golang.org/x/sync/singleflight"
)

type resolver interface {
	Resolve(ctx context.Context, visitorID string, cfg TenantConfig) (Resolution, error)
}

// ConcurrencyGuard collapses concurrent resolutions of one (visitor, chat)
// onto a single flight. Waiters share its result, error included.
type ConcurrencyGuard struct {
	resolver resolver
	group    singleflight.Group
	timeout  time.Duration
	logger   *slog.Logger
}

func NewConcurrencyGuard(r resolver, timeout time.Duration, logger *slog.Logger) *ConcurrencyGuard {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConcurrencyGuard{
		resolver: r,
		timeout:  timeout,
		logger:   logger.With("component", "concurrency_guard"),
	}
}

// ResolveOnce joins the in-flight resolution for the visitor or starts one. The
// flight runs detached from ctx so one caller giving up does not fail the
// others; a flight slower than the timeout is forgotten and the next caller
// starts fresh. Only the caller that started the flight sees Created; joiners
// get the thread as returning.
func (g *ConcurrencyGuard) ResolveOnce(ctx context.Context, visitorID string, cfg TenantConfig) (Resolution, error) {
	key := model.ThreadPK(visitorID, cfg.ChatID)

	// Written by the flight before its result is delivered on ch.
	var started bool
	ch := g.group.DoChan(key, func() (interface{}, error) {
		started = true
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.resolver.Resolve(flightCtx, visitorID, cfg)
	})

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		resolution := res.Val.(Resolution)
		if resolution.Created && !started {
			resolution.Created = false
			resolution.Returning = true
		}
		return resolution, nil
	case <-timer.C:
		g.group.Forget(key)
		g.logger.Warn("thread resolution timed out", "visitor_id", visitorID, "chat_id", cfg.ChatID)
		return Resolution{}, newError(ErrorCodeStoreUnavailable, "thread resolution timed out", context.DeadlineExceeded)
	case <-ctx.Done():
		return Resolution{}, newError(ErrorCodeStoreUnavailable, "thread resolution abandoned", ctx.Err())
	}
}
