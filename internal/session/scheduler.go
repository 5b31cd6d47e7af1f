package session

import (
	"sync"
	"time"
)

// MinAutoSaveInterval bounds write amplification: callers cannot ask
// for a quieter period than this.
const MinAutoSaveInterval = 5 * time.Second

// AutoSaveScheduler debounces local edits into a single deferred fire.
// Arm (re)starts the timer, so a burst of edits inside the interval
// produces exactly one fire after the last of them. The callback runs
// at most once per Arm.
type AutoSaveScheduler struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	enabled  bool
	onFire   func()
}

func NewAutoSaveScheduler(interval time.Duration, enabled bool, onFire func()) *AutoSaveScheduler {
	if interval < MinAutoSaveInterval {
		interval = MinAutoSaveInterval
	}
	return &AutoSaveScheduler{
		interval: interval,
		enabled:  enabled,
		onFire:   onFire,
	}
}

// Arm starts or restarts the debounce timer. A no-op while disabled:
// the session stays dirty and a manual save remains required.
func (s *AutoSaveScheduler) Arm() {
	s.ArmAfter(s.interval)
}

// ArmAfter is Arm with an explicit delay. Like Arm it is a no-op
// while disabled.
func (s *AutoSaveScheduler) ArmAfter(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.arm(delay)
}

// RetryAfter arms the timer for save-retry backoff. Retries fire even
// while auto-save is disabled: the write was already requested, only
// its completion is pending.
func (s *AutoSaveScheduler) RetryAfter(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arm(delay)
}

func (s *AutoSaveScheduler) arm(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.onFire)
}

// Cancel clears any pending fire. Safe to call with nothing armed.
func (s *AutoSaveScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SetEnabled toggles auto-save. Disabling cancels any pending fire but
// does not touch the session's dirty flag.
func (s *AutoSaveScheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	if !enabled && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *AutoSaveScheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *AutoSaveScheduler) Interval() time.Duration {
	return s.interval
}
