package market

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerFiresOnce(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	s.Arm("a1", 5*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected timer to fire exactly once, fired %d times", got)
	}
	if s.Armed("a1") {
		t.Error("fired timer should be removed")
	}
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	s.Arm("a1", 20*time.Millisecond, func() { fired.Add(1) })
	s.Cancel("a1")

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("cancelled timer fired %d times", got)
	}
}

func TestSchedulerCancelIsIdempotent(t *testing.T) {
	s := NewScheduler()

	// Unknown id, double cancel, cancel after fire: all no-ops.
	s.Cancel("missing")

	s.Arm("a1", time.Millisecond, func() {})
	time.Sleep(20 * time.Millisecond)
	s.Cancel("a1")
	s.Cancel("a1")
}

func TestSchedulerRearmReplacesTimer(t *testing.T) {
	s := NewScheduler()
	var first, second atomic.Int32

	s.Arm("a1", 10*time.Millisecond, func() { first.Add(1) })
	s.Arm("a1", 10*time.Millisecond, func() { second.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced timer should not fire")
	}
	if second.Load() != 1 {
		t.Error("replacement timer should fire once")
	}
}
