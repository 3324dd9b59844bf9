// Package scheduler runs one-shot delayed callbacks, used for reminders the
// model schedules on behalf of group members.
package scheduler

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// onceSchedule fires exactly once at a fixed time. After the trigger time has
// passed, Next returns the zero time and the cron runner drops the entry.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// Scheduler wraps a cron runner with id-deduplicated one-shot jobs. The same
// id scheduled twice runs only once; the first registration wins.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler. Call Start before scheduling.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// minDelay keeps the trigger time ahead of the runner's clock check; a
// trigger in the past would never fire.
const minDelay = 10 * time.Millisecond

// Schedule registers fn to run once after delay. It reports false when a job
// with the same id is already pending or has already been registered.
func (s *Scheduler) Schedule(id string, delay time.Duration, fn func()) bool {
	if delay < minDelay {
		delay = minDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		s.logger.Debug("duplicate schedule ignored", "id", id)
		return false
	}

	at := time.Now().Add(delay)
	var entryID cron.EntryID
	entryID = s.cron.Schedule(onceSchedule{at: at}, cron.FuncJob(func() {
		defer func() {
			s.mu.Lock()
			delete(s.entries, id)
			s.mu.Unlock()
			s.cron.Remove(entryID)
		}()
		fn()
	}))
	s.entries[id] = entryID

	s.logger.Info("job scheduled", "id", id, "at", at)
	return true
}

// Pending returns the number of jobs waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ParseDelay interprets a user-facing delay value: a bare number is seconds,
// anything else must parse as a duration string such as "5m" or "1h30m".
func ParseDelay(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty delay")
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative delay %q", value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %q", value)
	}
	return d, nil
}
