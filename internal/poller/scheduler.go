package poller

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether it was still pending.
	Stop() bool
}

// Scheduler arms delayed calls.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealScheduler uses the runtime timer wheel.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// FakeScheduler is a manually advanced Scheduler for tests. Calls fire
// synchronously inside Advance, in due-time order, ties broken by arm order.
//
// Thread-safety: all methods are safe for concurrent use. Fired callbacks run
// without the internal lock held, so they may arm further calls.
type FakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int64
	tasks []*fakeTask
}

type fakeTask struct {
	s    *FakeScheduler
	when time.Duration
	seq  int64
	fn   func()
	done bool
}

// NewFakeScheduler creates a scheduler at offset zero.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

// AfterFunc implements Scheduler.
func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTask{s: s, when: s.now + d, seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Stop implements Timer.
func (t *fakeTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.s.removeLocked(t)
	return true
}

func (s *FakeScheduler) removeLocked(t *fakeTask) {
	for i, existing := range s.tasks {
		if existing == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every call that comes due,
// including calls armed by callbacks fired during this advance.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		next.done = true
		s.removeLocked(next)
		s.now = next.when
		s.mu.Unlock()

		next.fn()
	}
}

func (s *FakeScheduler) nextDueLocked(target time.Duration) *fakeTask {
	if len(s.tasks) == 0 {
		return nil
	}
	sort.SliceStable(s.tasks, func(i, j int) bool {
		if s.tasks[i].when != s.tasks[j].when {
			return s.tasks[i].when < s.tasks[j].when
		}
		return s.tasks[i].seq < s.tasks[j].seq
	})
	if s.tasks[0].when > target {
		return nil
	}
	return s.tasks[0]
}

// Now returns the elapsed fake time.
func (s *FakeScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of armed calls.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
