package market

import (
	"sync"
	"time"
)

// Scheduler attaches one cancellable expiry timer to each live auction.
// Cancel of an already-fired, already-cancelled, or unknown timer is a
// no-op, never an error.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Arm schedules a one-shot callback. Re-arming the same id replaces the
// previous timer, keeping the one-live-timer-per-auction invariant.
func (s *Scheduler) Arm(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the timer for an id, if one is still pending.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Armed reports whether a timer is currently pending for the id.
func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}
