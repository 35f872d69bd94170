package session

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler uses the runtime timers.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Scheduler driven by an explicit clock. Nothing fires until
// Advance or Flush is called, and callbacks run on the caller's goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Duration
	seq     int
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, p := range t.m.pending {
		if p == t {
			t.m.pending = append(t.m.pending[:i], t.m.pending[i+1:]...)
			break
		}
	}
	return true
}

// NewManual returns a Manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{}
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + max(d, 0), seq: m.seq, f: f}
	m.pending = append(m.pending, t)
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].at != m.pending[j].at {
			return m.pending[i].at < m.pending[j].at
		}
		return m.pending[i].seq < m.pending[j].seq
	})
	return t
}

// Now returns the elapsed manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of timers not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Advance moves the clock forward by d, firing due timers in order,
// including ones scheduled by callbacks along the way. It returns the
// number fired.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	deadline := m.now + d
	m.mu.Unlock()
	return m.runUntil(deadline, false)
}

// Flush fires every pending timer, moving the clock as far as needed.
func (m *Manual) Flush() int {
	return m.runUntil(0, true)
}

func (m *Manual) runUntil(deadline time.Duration, all bool) int {
	fired := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 || (!all && m.pending[0].at > deadline) {
			if !all && deadline > m.now {
				m.now = deadline
			}
			m.mu.Unlock()
			return fired
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		t.stopped = true
		if t.at > m.now {
			m.now = t.at
		}
		m.mu.Unlock()

		t.f()
		fired++
	}
}
