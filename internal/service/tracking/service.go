package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"time"

	"visitor-relay/internal/database"
	"visitor-relay/internal/model"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var visitorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Event is one inbound tracking event as decoded at the ingestion boundary.
type Event struct {
	APIKey    string
	VisitorID string
	Type      model.EventType
	URL       string
	Title     string
	Referrer  string
	// Reason applies to session_end; "inactivity" means timeout.
	Reason string
	// Visible and Duration describe a tab switch, Duration also the length
	// of an ended session.
	Visible          bool
	Duration         time.Duration
	SessionStartedAt time.Time
	ClientTime       time.Time
	ClientIP         string
	UserAgent        string
}

type TrackStatus string

const (
	StatusAccepted  TrackStatus = "accepted"
	StatusThrottled TrackStatus = "throttled"
)

type TrackResult struct {
	Status        TrackStatus
	EventID       string
	TenantID      string
	ThreadID      int64
	Created       bool
	Returning     bool
	SessionStatus model.SessionStatus
	Notified      bool
	// NotifyErr is set when the event was stored but its notification was
	// not delivered.
	NotifyErr error
}

// Activity is published to the tenant's live feed for every accepted event.
type Activity struct {
	Kind          string `json:"kind"`
	EventID       string `json:"eventId"`
	TenantID      string `json:"tenantId"`
	VisitorID     string `json:"visitorId"`
	EventType     string `json:"eventType"`
	URL           string `json:"url,omitempty"`
	Title         string `json:"title,omitempty"`
	ThreadID      int64  `json:"threadId"`
	NewVisitor    bool   `json:"newVisitor"`
	SessionStatus string `json:"sessionStatus,omitempty"`
	At            string `json:"at"`
}

type ActivityPublisher interface {
	Publish(ctx context.Context, roomID string, payload interface{}) error
}

// ActivityRoomID names the live feed room of a tenant.
func ActivityRoomID(tenantID string) string {
	return fmt.Sprintf("tenant:%s:activity", tenantID)
}

type Options struct {
	Throttle        ThrottleConfig
	ConfigCache     ConfigCacheOptions
	FlightTimeout   time.Duration
	SessionCacheTTL time.Duration
	KeyIndex        KeyIndex
	Activity        ActivityPublisher
	Registerer      prometheus.Registerer
	Logger          *slog.Logger
	Now             func() time.Time
	Rand            func() float64
}

type Service struct {
	repo       Repository
	configs    *ConfigCache
	throttle   *ThrottleGuard
	guard      *ConcurrencyGuard
	sessions   *SessionTracker
	dispatcher *Dispatcher
	activity   ActivityPublisher
	metrics    *Metrics
	now        func() time.Time
	logger     *slog.Logger
}

func New(db *database.Database, platform Platform, opts Options) *Service {
	return NewWithRepository(NewDynamoRepository(db), platform, opts)
}

func NewWithRepository(repo Repository, platform Platform, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger
	metrics := NewMetrics(opts.Registerer)

	resolver := NewThreadResolver(repo, platform, opts.Now, logger, metrics)
	s := &Service{
		repo:       repo,
		configs:    NewConfigCache(repo, opts.KeyIndex, opts.ConfigCache, opts.Now, logger),
		throttle:   NewThrottleGuard(opts.Throttle, opts.Now, opts.Rand),
		guard:      NewConcurrencyGuard(resolver, opts.FlightTimeout, logger),
		sessions:   NewSessionTracker(repo, opts.SessionCacheTTL, opts.Now, logger),
		dispatcher: NewDispatcher(platform, opts.Now, logger, metrics),
		activity:   opts.Activity,
		metrics:    metrics,
		now:        opts.Now,
		logger:     logger.With("component", "tracking"),
	}

	metrics.watchCache("config", s.configs.Len)
	metrics.watchCache("throttle", s.throttle.Len)
	metrics.watchCache("session", s.sessions.Len)
	return s
}

func (s *Service) Configs() *ConfigCache { return s.configs }

func (s *Service) Throttle() *ThrottleGuard { return s.throttle }

func (s *Service) Sessions() *SessionTracker { return s.sessions }

// Track runs one event through admission, thread resolution, storage,
// session bookkeeping and notification. Throttled page views return a
// result with StatusThrottled and no error.
func (s *Service) Track(ctx context.Context, ev Event) (TrackResult, error) {
	path, err := validateEvent(ev)
	if err != nil {
		s.metrics.observeEvent(string(ev.Type), "invalid")
		return TrackResult{}, err
	}

	cfg, err := s.configs.Resolve(ctx, ev.APIKey)
	if err != nil {
		s.metrics.observeEvent(string(ev.Type), string(CodeOf(err)))
		return TrackResult{}, err
	}

	var admittedAt time.Time
	if ev.Type == model.EventPageView {
		var ok bool
		ok, admittedAt = s.throttle.Admit(cfg.TenantID, ev.VisitorID, path)
		if !ok {
			s.metrics.observeEvent(string(ev.Type), string(StatusThrottled))
			return TrackResult{Status: StatusThrottled, TenantID: cfg.TenantID}, nil
		}
	}

	// A failed event hands its admission back so the retry is not throttled.
	release := func() {
		if !admittedAt.IsZero() {
			s.throttle.Release(cfg.TenantID, ev.VisitorID, admittedAt)
		}
	}

	// Beacons are fire and forget; the rest runs to completion even when
	// the sender is gone.
	ctx = context.WithoutCancel(ctx)

	resolution, err := s.guard.ResolveOnce(ctx, ev.VisitorID, cfg)
	if err != nil {
		release()
		s.metrics.observeEvent(string(ev.Type), string(CodeOf(err)))
		return TrackResult{}, err
	}

	now := s.now().UTC()
	item := model.EventItem{
		PK:         model.TenantScopedPK(cfg.TenantID, ev.VisitorID),
		EventID:    ulid.Make().String(),
		TenantID:   cfg.TenantID,
		VisitorID:  ev.VisitorID,
		Type:       ev.Type,
		PageURL:    ev.URL,
		Path:       path,
		Title:      ev.Title,
		Referrer:   ev.Referrer,
		Reason:     ev.Reason,
		DurationMs: ev.Duration.Milliseconds(),
		ClientIP:   ev.ClientIP,
		UserAgent:  ev.UserAgent,
		CreatedAt:  now.Format(time.RFC3339),
	}
	if !ev.ClientTime.IsZero() {
		item.ClientTime = ev.ClientTime.UnixMilli()
	}
	if err := s.repo.CreateEvent(ctx, item); err != nil {
		release()
		s.metrics.observeEvent(string(ev.Type), string(ErrorCodeStoreUnavailable))
		return TrackResult{}, newError(ErrorCodeStoreUnavailable, "failed to store tracking event", err)
	}

	result := TrackResult{
		Status:    StatusAccepted,
		EventID:   item.EventID,
		TenantID:  cfg.TenantID,
		ThreadID:  resolution.ThreadID,
		Created:   resolution.Created,
		Returning: resolution.Returning,
	}

	if ev.URL != "" && ev.Type != model.EventSessionEnd {
		if err := s.repo.TouchThread(ctx, resolution.Thread.PK, ev.URL, item.CreatedAt); err != nil {
			s.logger.Warn("failed to touch visitor thread", "tenant_id", cfg.TenantID, "visitor_id", ev.VisitorID, "error", err)
		}
	}

	var outcome *SessionOutcome
	if transition := transitionFor(ev); transition != nil {
		o, err := s.sessions.Apply(ctx, resolution.Thread, cfg.ChatID, transition)
		if err != nil {
			release()
			s.metrics.observeEvent(string(ev.Type), string(CodeOf(err)))
			return TrackResult{}, err
		}
		outcome = &o
		result.SessionStatus = o.Status
	}

	if text, ok := FormatMessage(MessageInput{Event: ev, Resolution: resolution, Session: outcome}); ok {
		if _, err := s.dispatcher.Dispatch(ctx, cfg, resolution.ThreadID, text); err != nil {
			result.NotifyErr = err
		} else {
			result.Notified = true
		}
	}

	s.metrics.observeEvent(string(ev.Type), string(StatusAccepted))
	s.publishActivity(ctx, ev, result, now)
	return result, nil
}

func (s *Service) publishActivity(ctx context.Context, ev Event, result TrackResult, at time.Time) {
	if s.activity == nil {
		return
	}
	payload := Activity{
		Kind:          "visitor_activity",
		EventID:       result.EventID,
		TenantID:      result.TenantID,
		VisitorID:     ev.VisitorID,
		EventType:     string(ev.Type),
		URL:           ev.URL,
		Title:         ev.Title,
		ThreadID:      result.ThreadID,
		NewVisitor:    result.Created,
		SessionStatus: string(result.SessionStatus),
		At:            at.Format(time.RFC3339),
	}
	if err := s.activity.Publish(ctx, ActivityRoomID(result.TenantID), payload); err != nil {
		s.logger.Warn("failed to publish activity", "tenant_id", result.TenantID, "error", err)
	}
}

func transitionFor(ev Event) Transition {
	switch ev.Type {
	case model.EventSessionStart:
		started := ev.SessionStartedAt
		if started.IsZero() {
			started = ev.ClientTime
		}
		return SessionStart{StartedAt: started}
	case model.EventSessionEnd:
		reason := EndReason(ev.Reason)
		if reason == "" {
			reason = EndReasonUnload
		}
		return SessionEnd{Reason: reason, At: ev.ClientTime}
	case model.EventTabSwitch:
		return TabSwitch{Visible: ev.Visible, ActiveFor: ev.Duration}
	}
	return nil
}

// validateEvent checks the event and returns the path used for throttling.
func validateEvent(ev Event) (string, error) {
	if !visitorIDPattern.MatchString(ev.VisitorID) {
		return "", newError(ErrorCodeValidation, "visitorId must be 1-128 characters of letters, digits, '-' or '_'", nil)
	}
	if !ev.Type.Valid() {
		return "", newError(ErrorCodeValidation, fmt.Sprintf("unknown event type %q", ev.Type), nil)
	}
	if ev.Duration < 0 {
		return "", newError(ErrorCodeValidation, "durationMs must not be negative", nil)
	}
	if ev.URL == "" {
		if ev.Type == model.EventPageView {
			return "", newError(ErrorCodeValidation, "url is required for page_view", nil)
		}
		return "", nil
	}

	u, err := url.Parse(ev.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", newError(ErrorCodeValidation, "url must be an absolute http(s) URL", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return path, nil
}
