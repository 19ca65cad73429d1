package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"visitor-relay/internal/model"
)

// Transition is one of SessionStart, TabSwitch or SessionEnd.
type Transition interface {
	target() model.SessionStatus
}

type SessionStart struct {
	// StartedAt identifies the session; later starts supersede earlier ones.
	StartedAt time.Time
}

type TabSwitch struct {
	Visible   bool
	ActiveFor time.Duration
}

type EndReason string

const (
	EndReasonInactivity EndReason = "inactivity"
	EndReasonUnload     EndReason = "unload"
	EndReasonManual     EndReason = "manual"
)

type SessionEnd struct {
	Reason EndReason
	At     time.Time
}

func (SessionStart) target() model.SessionStatus { return model.SessionStatusActive }
func (TabSwitch) target() model.SessionStatus    { return model.SessionStatusNone }

func (e SessionEnd) target() model.SessionStatus {
	if e.Reason == EndReasonInactivity {
		return model.SessionStatusTimeout
	}
	return model.SessionStatusClosed
}

// TargetStatus is the status a transition writes; TabSwitch writes none.
func TargetStatus(t Transition) model.SessionStatus {
	return t.target()
}

type SessionOutcome struct {
	Status         model.SessionStatus
	ActiveDuration time.Duration
	// Stale is set when a newer transition had already been recorded.
	Stale bool
}

type sessionEntry struct {
	status model.SessionStatus
	seenAt time.Time
}

// SessionTracker persists session transitions on the visitor mapping and
// mirrors the resulting status in a local TTL cache.
type SessionTracker struct {
	repo   Repository
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]sessionEntry
	ttl   time.Duration
}

func NewSessionTracker(repo Repository, ttl time.Duration, now func() time.Time, logger *slog.Logger) *SessionTracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionTracker{
		repo:   repo,
		now:    now,
		logger: logger.With("component", "session_tracker"),
		cache:  make(map[string]sessionEntry),
		ttl:    ttl,
	}
}

// Apply records t on the visitor's mapping. chatID keys the local status
// mirror, since legacy mappings carry no chat.
func (s *SessionTracker) Apply(ctx context.Context, thread model.ThreadItem, chatID int64, t Transition) (SessionOutcome, error) {
	updatedAt := s.now().UTC().Format(time.RFC3339)

	var (
		out model.ThreadItem
		err error
	)
	switch tr := t.(type) {
	case SessionStart:
		out, err = s.repo.StartSession(ctx, thread.PK, s.stamp(tr.StartedAt), updatedAt)
	case SessionEnd:
		// An end without a client stamp is never compared to the client
		// start; it closes whichever session is current.
		var endedAt int64
		if !tr.At.IsZero() {
			endedAt = tr.At.UnixMilli()
		}
		out, err = s.repo.EndSession(ctx, thread.PK, tr.target(), endedAt, updatedAt)
	case TabSwitch:
		out, err = s.repo.RecordTabSwitch(ctx, thread.PK, tr.ActiveFor.Milliseconds(), updatedAt)
	default:
		return SessionOutcome{}, newError(ErrorCodeInternal, "unknown session transition", nil)
	}

	stale := false
	if errors.Is(err, ErrStaleTransition) {
		stale = true
		out, err = s.repo.GetThread(ctx, thread.PK)
		if err == nil {
			s.logger.Info("stale session transition ignored",
				"visitor_id", thread.VisitorID,
				"wanted", TargetStatus(t).String(),
				"current", out.LastSessionStatus.String(),
			)
		}
	}
	if err != nil {
		return SessionOutcome{}, newError(ErrorCodeStoreUnavailable, "failed to record session transition", err)
	}

	s.remember(thread.VisitorID, chatID, out.LastSessionStatus)
	return SessionOutcome{
		Status:         out.LastSessionStatus,
		ActiveDuration: time.Duration(out.ActiveDurationMs) * time.Millisecond,
		Stale:          stale,
	}, nil
}

func (s *SessionTracker) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixMilli()
}

// Status returns the last status this process saw for the visitor.
func (s *SessionTracker) Status(visitorID string, chatID int64) (model.SessionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[model.ThreadPK(visitorID, chatID)]
	if !ok || s.now().Sub(entry.seenAt) >= s.ttl {
		return model.SessionStatusNone, false
	}
	return entry.status, true
}

func (s *SessionTracker) remember(visitorID string, chatID int64, status model.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[model.ThreadPK(visitorID, chatID)] = sessionEntry{status: status, seenAt: s.now()}
}

func (s *SessionTracker) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.cache {
		if now.Sub(entry.seenAt) >= s.ttl {
			delete(s.cache, key)
			removed++
		}
	}
	return removed
}

func (s *SessionTracker) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
