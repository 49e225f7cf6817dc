package timeutil

import (
	"sync"
	"time"
)

// MockClock only moves when Advance is called. Timers and tickers created
// from it fire synchronously inside Advance, each delivering at most one
// pending value like their time package counterparts.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	alarms []*alarm
}

// NewMockClock returns a clock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns Now() - t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d and fires everything that came due.
// Stopped and spent alarms are dropped so long-running tests do not
// accumulate them.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := append([]*alarm(nil), c.alarms...)
	c.mu.Unlock()

	for _, a := range due {
		a.fire(now)
	}

	c.mu.Lock()
	live := c.alarms[:0]
	for _, a := range c.alarms {
		if !a.dead() {
			live = append(live, a)
		}
	}
	c.alarms = live
	c.mu.Unlock()
}

func (c *MockClock) add(d, period time.Duration) *alarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{ch: make(chan time.Time, 1), at: c.now.Add(d), period: period}
	c.alarms = append(c.alarms, a)
	return a
}

// NewTimer returns a one-shot timer due d from now.
func (c *MockClock) NewTimer(d time.Duration) Timer {
	return mockTimer{c.add(d, 0)}
}

// NewTicker returns a ticker with period d.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	return mockTicker{c.add(d, d)}
}

func (c *MockClock) count(match func(a *alarm) bool) int {
	c.mu.Lock()
	alarms := append([]*alarm(nil), c.alarms...)
	c.mu.Unlock()

	n := 0
	for _, a := range alarms {
		if match(a) {
			n++
		}
	}
	return n
}

// ActiveTickers counts running tickers with the given period. Zero counts
// every running ticker.
func (c *MockClock) ActiveTickers(period time.Duration) int {
	return c.count(func(a *alarm) bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.period > 0 && !a.stopped && (period == 0 || a.period == period)
	})
}

// PendingTimers counts one-shot timers that have neither fired nor been
// stopped.
func (c *MockClock) PendingTimers() int {
	return c.count(func(a *alarm) bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.period == 0 && !a.stopped && !a.fired
	})
}

// alarm backs both mock timers (period 0) and mock tickers.
type alarm struct {
	mu      sync.Mutex
	ch      chan time.Time
	at      time.Time
	period  time.Duration
	stopped bool
	fired   bool
}

func (a *alarm) fire(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.fired || now.Before(a.at) {
		return
	}
	select {
	case a.ch <- now:
	default:
	}
	if a.period == 0 {
		a.fired = true
		return
	}
	a.at = now.Add(a.period)
}

// stop reports whether the alarm was still pending.
func (a *alarm) stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := !a.stopped && !a.fired
	a.stopped = true
	return pending
}

func (a *alarm) dead() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped || a.fired
}

type mockTimer struct{ a *alarm }

func (t mockTimer) C() <-chan time.Time { return t.a.ch }
func (t mockTimer) Stop() bool          { return t.a.stop() }

type mockTicker struct{ a *alarm }

func (t mockTicker) C() <-chan time.Time { return t.a.ch }
func (t mockTicker) Stop()               { t.a.stop() }
