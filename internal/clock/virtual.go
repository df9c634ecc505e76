package clock

import (
	"sync"
	"time"
)

// Virtual is a manually driven clock. Time stands still until a test calls
// Advance or AdvanceTo, which also fires any After timers whose deadlines
// have been crossed. Safe for concurrent use.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	timers []virtualTimer
}

type virtualTimer struct {
	fireAt time.Time
	ch     chan time.Time
}

// NewVirtual returns a Virtual clock frozen at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the frozen current time.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns how much virtual time has passed since t.
func (c *Virtual) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// After registers a timer that fires when the clock reaches now+d.
// A non-positive d fires immediately. Each returned channel receives
// exactly one value and is buffered, so an abandoned timer never blocks
// the clock.
func (c *Virtual) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, virtualTimer{fireAt: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is now due. Panics on negative d.
func (c *Virtual) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: negative advance")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fireDue()
}

// AdvanceTo jumps the clock to t, firing due timers. Panics if t is
// earlier than the current time; virtual time never runs backwards.
func (c *Virtual) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		panic("clock: advance into the past")
	}
	c.now = t
	c.fireDue()
}

// TimerCount reports how many After timers are armed and not yet fired.
// Tests use it to wait until the code under test has started its race
// before advancing the clock.
func (c *Virtual) TimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fireDue delivers the current time to every timer at or past its
// deadline. Caller holds c.mu.
func (c *Virtual) fireDue() {
	pending := c.timers[:0]
	for _, t := range c.timers {
		if t.fireAt.After(c.now) {
			pending = append(pending, t)
			continue
		}
		t.ch <- c.now
	}
	c.timers = pending
}
