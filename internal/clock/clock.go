// Package clock abstracts one-shot timer scheduling so reconnect and
// timeout behaviour can be driven in tests without wall-clock delays.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled one-shot callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the cancellation
	// happened before the callback ran.
	Stop() bool
}

// Clock schedules one-shot callbacks and tells the time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// New returns a Clock backed by the runtime timers.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Mock is a Clock whose time only moves when Advance is called.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

// NewMock returns a Mock pinned at the zero time plus one hour, so
// durations subtracted in code under test never go negative.
func NewMock() *Mock {
	return &Mock{now: time.Unix(3600, 0)}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{clock: m, when: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)

	return t
}

// Advance moves the mock time forwards, firing every timer that
// becomes due, in deadline order. Callbacks run on the caller's
// goroutine with no locks held, so they may schedule further timers.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.nextDue()
		if t == nil {
			return
		}

		t.f()
	}
}

// nextDue pops the earliest timer at or before the current mock time.
func (m *Mock) nextDue() *mockTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.timers, func(i, j int) bool {
		return m.timers[i].when.Before(m.timers[j].when)
	})

	for i, t := range m.timers {
		if t.when.After(m.now) {
			break
		}

		m.timers = append(m.timers[:i], m.timers[i+1:]...)
		return t
	}

	return nil
}

func (m *Mock) remove(t *mockTimer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}

	return false
}

type mockTimer struct {
	clock *Mock
	when  time.Time
	f     func()
}

func (t *mockTimer) Stop() bool {
	return t.clock.remove(t)
}
