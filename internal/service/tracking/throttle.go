package tracking

import (
	"math/rand"
	"sync"
	"time"

	"visitor-relay/internal/model"
)

type ThrottleConfig struct {
	// Delay is the minimum gap between two admitted page views of one visitor.
	Delay time.Duration
	// MaxBurst caps admitted page views inside BurstWindow.
	MaxBurst int
	// BurstWindow defaults to 3 * Delay.
	BurstWindow time.Duration
	// HistorySize bounds the per-visitor admission history.
	HistorySize int
	// IdleTTL is how long an untouched window survives a purge.
	IdleTTL time.Duration
	// PurgeChance is the probability that a single Admit call also purges
	// idle windows. Zero takes the default; a negative value disables it.
	PurgeChance float64
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Delay:       10 * time.Second,
		MaxBurst:    3,
		BurstWindow: 30 * time.Second,
		HistorySize: 100,
		IdleTTL:     30 * time.Minute,
		PurgeChance: 0.01,
	}
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	def := DefaultThrottleConfig()
	if c.Delay <= 0 {
		c.Delay = def.Delay
	}
	if c.MaxBurst <= 0 {
		c.MaxBurst = def.MaxBurst
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = 3 * c.Delay
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = def.IdleTTL
	}
	if c.PurgeChance == 0 {
		c.PurgeChance = def.PurgeChance
	}
	return c
}

type throttleWindow struct {
	tenantID string
	lastAt   time.Time
	lastPath string
	// history holds admitted events oldest first.
	history []admission
}

type admission struct {
	at   time.Time
	path string
}

// ThrottleGuard decides per visitor whether a page view is worth processing.
// All decisions for one guard are serialized by a single mutex.
type ThrottleGuard struct {
	mu      sync.Mutex
	cfg     ThrottleConfig
	windows map[string]*throttleWindow
	now     func() time.Time
	rand    func() float64
}

func NewThrottleGuard(cfg ThrottleConfig, now func() time.Time, random func() float64) *ThrottleGuard {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Float64
	}
	return &ThrottleGuard{
		cfg:     cfg.withDefaults(),
		windows: make(map[string]*throttleWindow),
		now:     now,
		rand:    random,
	}
}

// Admit reports whether a page view of path by the visitor should proceed,
// recording it when it does.
func (g *ThrottleGuard) Admit(tenantID, visitorID, path string) (bool, time.Time) {
	at := g.now()
	return g.AdmitAt(tenantID, visitorID, path, at), at
}

func (g *ThrottleGuard) AdmitAt(tenantID, visitorID, path string, at time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.PurgeChance > 0 && g.rand() < g.cfg.PurgeChance {
		g.purgeLocked(at)
	}

	key := model.TenantScopedPK(tenantID, visitorID)
	w, ok := g.windows[key]
	if !ok {
		g.windows[key] = &throttleWindow{
			tenantID: tenantID,
			lastAt:   at,
			lastPath: path,
			history:  []admission{{at: at, path: path}},
		}
		return true
	}

	// A repeat of the last admitted path is dropped no matter how much time
	// has passed.
	if path == w.lastPath {
		return false
	}
	if at.Sub(w.lastAt) < g.cfg.Delay {
		return false
	}

	recent := 0
	for i := len(w.history) - 1; i >= 0; i-- {
		if at.Sub(w.history[i].at) > g.cfg.BurstWindow {
			break
		}
		recent++
	}
	if recent >= g.cfg.MaxBurst {
		return false
	}

	w.lastAt = at
	w.lastPath = path
	w.history = append(w.history, admission{at: at, path: path})
	if over := len(w.history) - g.cfg.HistorySize; over > 0 {
		w.history = append(w.history[:0], w.history[over:]...)
	}
	return true
}

// Release withdraws the admission recorded at the given time so a failed
// event can be retried. It is a no-op when a later admission exists.
func (g *ThrottleGuard) Release(tenantID, visitorID string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := model.TenantScopedPK(tenantID, visitorID)
	w, ok := g.windows[key]
	if !ok || len(w.history) == 0 {
		return
	}
	last := w.history[len(w.history)-1]
	if !last.at.Equal(at) {
		return
	}
	w.history = w.history[:len(w.history)-1]
	if len(w.history) == 0 {
		delete(g.windows, key)
		return
	}
	prev := w.history[len(w.history)-1]
	w.lastAt = prev.at
	w.lastPath = prev.path
}

// Sweep drops windows idle for longer than IdleTTL and returns how many
// were removed.
func (g *ThrottleGuard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.purgeLocked(now)
}

func (g *ThrottleGuard) purgeLocked(now time.Time) int {
	removed := 0
	for key, w := range g.windows {
		if now.Sub(w.lastAt) > g.cfg.IdleTTL {
			delete(g.windows, key)
			removed++
		}
	}
	return removed
}

func (g *ThrottleGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}
