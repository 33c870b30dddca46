package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source for retry timers and session-start stamps.
// Production code uses Real; tests drive a Fake.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f on its own goroutine (Real) or synchronously
	// inside Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the call. It reports false if the timer already fired
// or was stopped before.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

// Fake is a manually advanced Clock. It is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	armed   int
}

type fakeTimer struct {
	deadline time.Time
	fn       func()
	done     bool
}

// NewFake returns a Fake frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTimer{deadline: c.now.Add(d), fn: f}
	c.pending = append(c.pending, ft)
	c.armed++
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		return true
	}}
}

// Advance moves the clock forward and runs every expired callback in
// deadline order on the calling goroutine.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now

	var due, rest []*fakeTimer
	for _, ft := range c.pending {
		switch {
		case ft.done:
		case !ft.deadline.After(target):
			ft.done = true
			due = append(due, ft)
		default:
			rest = append(rest, ft)
		}
	}
	c.pending = rest
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, ft := range due {
		ft.fn()
	}
}

// Pending returns the number of timers that have neither fired nor
// been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ft := range c.pending {
		if !ft.done {
			n++
		}
	}
	return n
}

// Armed returns how many timers were ever created on this clock.
func (c *Fake) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}
