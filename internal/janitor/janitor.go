package janitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper drops expired entries and reports how many it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

type job struct {
	name    string
	sweeper Sweeper
}

// Janitor periodically sweeps the in-memory caches of the tracking engine.
type Janitor struct {
	cron     *cron.Cron
	schedule string
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	jobs []job
}

const DefaultSchedule = "@every 1m"

func New(schedule string, now func() time.Time, logger *slog.Logger) *Janitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
		now:      now,
		logger:   logger.With("component", "janitor"),
	}
}

func (j *Janitor) Register(name string, s Sweeper) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs = append(j.jobs, job{name: name, sweeper: s})
}

// RunOnce sweeps every registered cache and returns the removed counts by
// name.
func (j *Janitor) RunOnce() map[string]int {
	j.mu.Lock()
	jobs := append([]job(nil), j.jobs...)
	j.mu.Unlock()

	now := j.now()
	removed := make(map[string]int, len(jobs))
	for _, jb := range jobs {
		n := jb.sweeper.Sweep(now)
		removed[jb.name] = n
		if n > 0 {
			j.logger.Debug("swept cache", "cache", jb.name, "removed", n)
		}
	}
	return removed
}

func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce() }); err != nil {
		return fmt.Errorf("janitor: schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("janitor stopped")
}
