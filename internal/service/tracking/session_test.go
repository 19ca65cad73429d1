package tracking

import (
	"context"
	"testing"
	"time"

	"visitor-relay/internal/model"
)

func newSessionFixture(t *testing.T) (*SessionTracker, *memoryRepository, *fakeClock, model.ThreadItem) {
	t.Helper()
	repo := newMemoryRepository()
	clock := newFakeClock()
	pk := model.ThreadPK("v1", testChatID)
	thread := model.ThreadItem{PK: pk, VisitorID: "v1", ChatID: testChatID, TopicID: 5}
	repo.threads[pk] = thread
	return NewSessionTracker(repo, time.Minute, clock.Now, discardLogger()), repo, clock, thread
}

func TestSessionTransitions(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()
	start := clock.Now()

	steps := []struct {
		name string
		tr   Transition
		want model.SessionStatus
	}{
		{"start", SessionStart{StartedAt: start}, model.SessionStatusActive},
		{"tab hidden", TabSwitch{Visible: false, ActiveFor: 30 * time.Second}, model.SessionStatusActive},
		{"tab visible", TabSwitch{Visible: true}, model.SessionStatusActive},
		{"unload", SessionEnd{Reason: EndReasonUnload, At: start.Add(time.Minute)}, model.SessionStatusClosed},
		{"restart", SessionStart{StartedAt: start.Add(2 * time.Minute)}, model.SessionStatusActive},
		{"inactivity", SessionEnd{Reason: EndReasonInactivity, At: start.Add(40 * time.Minute)}, model.SessionStatusTimeout},
	}
	for _, step := range steps {
		out, err := tracker.Apply(ctx, thread, testChatID, step.tr)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if out.Status != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, out.Status, step.want)
		}
	}
}

func TestSessionTabSwitchAccumulatesActiveTime(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()

	tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: clock.Now()})
	tracker.Apply(ctx, thread, testChatID, TabSwitch{ActiveFor: 20 * time.Second})
	out, err := tracker.Apply(ctx, thread, testChatID, TabSwitch{ActiveFor: 15 * time.Second})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.ActiveDuration != 35*time.Second {
		t.Fatalf("active duration = %s, want 35s", out.ActiveDuration)
	}
}

func TestSessionClosedDoesNotReplaceTimeout(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()
	start := clock.Now()

	tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start})
	tracker.Apply(ctx, thread, testChatID, SessionEnd{Reason: EndReasonInactivity, At: start.Add(30 * time.Minute)})
	out, err := tracker.Apply(ctx, thread, testChatID, SessionEnd{Reason: EndReasonUnload, At: start.Add(31 * time.Minute)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusTimeout || !out.Stale {
		t.Fatalf("expected stale timeout, got %+v", out)
	}
}

func TestSessionLateStartDoesNotReopen(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()
	start := clock.Now()

	// End delivered before its own start.
	tracker.Apply(ctx, thread, testChatID, SessionEnd{Reason: EndReasonUnload, At: start.Add(time.Minute)})
	out, err := tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusClosed || !out.Stale {
		t.Fatalf("late start reopened the session: %+v", out)
	}

	out, err = tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusActive || out.Stale {
		t.Fatalf("newer start was rejected: %+v", out)
	}
}

func TestSessionDuplicateStartIsIdempotent(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()
	start := clock.Now()

	tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start})
	out, err := tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusActive || !out.Stale {
		t.Fatalf("unexpected outcome for replayed start: %+v", out)
	}
}

func TestSessionEndOlderThanCurrentStartIsIgnored(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()
	start := clock.Now()

	tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start.Add(10 * time.Minute)})
	out, err := tracker.Apply(ctx, thread, testChatID, SessionEnd{Reason: EndReasonUnload, At: start.Add(5 * time.Minute)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusActive {
		t.Fatalf("old end closed the newer session: %+v", out)
	}
}

func TestSessionUnstampedEndClosesCurrentSession(t *testing.T) {
	tracker, repo, clock, thread := newSessionFixture(t)
	ctx := context.Background()
	start := clock.Now().Add(2 * time.Minute)

	tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start})
	clock.Advance(time.Minute)
	out, err := tracker.Apply(ctx, thread, testChatID, SessionEnd{Reason: EndReasonInactivity})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusTimeout || out.Stale {
		t.Fatalf("unstamped end was ignored: %+v", out)
	}
	if stored := repo.threads[thread.PK]; stored.SessionEndedAt != start.UnixMilli() {
		t.Fatalf("end stamp = %d, want the session start %d", stored.SessionEndedAt, start.UnixMilli())
	}

	if out, _ := tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start}); !out.Stale {
		t.Fatalf("replayed start reopened the ended session: %+v", out)
	}
	out, err = tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: start.Add(time.Second)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != model.SessionStatusActive || out.Stale {
		t.Fatalf("next session did not start: %+v", out)
	}
}

func TestSessionStatusMirror(t *testing.T) {
	tracker, _, clock, thread := newSessionFixture(t)
	ctx := context.Background()

	if _, ok := tracker.Status("v1", testChatID); ok {
		t.Fatalf("status known before any transition")
	}
	tracker.Apply(ctx, thread, testChatID, SessionStart{StartedAt: clock.Now()})

	status, ok := tracker.Status("v1", testChatID)
	if !ok || status != model.SessionStatusActive {
		t.Fatalf("Status = %s, %v", status, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := tracker.Status("v1", testChatID); ok {
		t.Fatalf("status survived its TTL")
	}
	if removed := tracker.Sweep(clock.Now()); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
}

func TestSessionMissingMappingIsStoreError(t *testing.T) {
	tracker, _, clock, _ := newSessionFixture(t)
	ghost := model.ThreadItem{PK: model.ThreadPK("ghost", testChatID), VisitorID: "ghost"}

	_, err := tracker.Apply(context.Background(), ghost, testChatID, SessionStart{StartedAt: clock.Now()})
	if CodeOf(err) != ErrorCodeStoreUnavailable {
		t.Fatalf("expected store_unavailable, got %v", err)
	}
}

func TestTargetStatus(t *testing.T) {
	cases := []struct {
		tr   Transition
		want model.SessionStatus
	}{
		{SessionStart{}, model.SessionStatusActive},
		{TabSwitch{}, model.SessionStatusNone},
		{SessionEnd{Reason: EndReasonInactivity}, model.SessionStatusTimeout},
		{SessionEnd{Reason: EndReasonUnload}, model.SessionStatusClosed},
		{SessionEnd{Reason: EndReasonManual}, model.SessionStatusClosed},
	}
	for _, tc := range cases {
		if got := TargetStatus(tc.tr); got != tc.want {
			t.Fatalf("TargetStatus(%T %+v) = %s, want %s", tc.tr, tc.tr, got, tc.want)
		}
	}
}
