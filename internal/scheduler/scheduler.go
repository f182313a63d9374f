// Package scheduler abstracts deadline-based wakeups so components that need
// "call me at the next expiry" never own raw timers and tests can drive time
// by hand.
package scheduler

import (
	"sync"
	"time"
)

// Handle cancels a scheduled call. Cancel is idempotent.
type Handle interface {
	Cancel()
}

// Scheduler schedules a single callback at a deadline. Implementations fire
// the callback at most once.
type Scheduler interface {
	ScheduleAt(deadline time.Time, fn func()) Handle
}

// TimerScheduler backs the abstraction with real timers. The clock is
// injected so the duration to a deadline is computed consistently with the
// rest of the process.
type TimerScheduler struct {
	now func() time.Time
}

func NewTimerScheduler(now func() time.Time) *TimerScheduler {
	if now == nil {
		now = time.Now
	}
	return &TimerScheduler{now: now}
}

func (s *TimerScheduler) ScheduleAt(deadline time.Time, fn func()) Handle {
	d := deadline.Sub(s.now())
	if d < 0 {
		d = 0
	}
	return timerHandle{timer: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	timer *time.Timer
}

func (h timerHandle) Cancel() {
	h.timer.Stop()
}

// ManualScheduler collects scheduled calls and fires them when the test
// advances time. Safe for concurrent use.
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]manualEntry
}

type manualEntry struct {
	deadline time.Time
	fn       func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int]manualEntry)}
}

func (s *ManualScheduler) ScheduleAt(deadline time.Time, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.pending[id] = manualEntry{deadline: deadline, fn: fn}
	return &manualHandle{scheduler: s, id: id}
}

// Advance fires every pending callback with a deadline at or before now.
func (s *ManualScheduler) Advance(now time.Time) {
	s.mu.Lock()
	var due []func()
	for id, e := range s.pending {
		if !e.deadline.After(now) {
			due = append(due, e.fn)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// Pending returns how many callbacks are scheduled.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type manualHandle struct {
	scheduler *ManualScheduler
	id        int
}

func (h *manualHandle) Cancel() {
	h.scheduler.mu.Lock()
	defer h.scheduler.mu.Unlock()
	delete(h.scheduler.pending, h.id)
}
