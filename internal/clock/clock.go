// Package clock abstracts time behind an interface so that window math,
// token refill, queue timers, and the simulated chat delay can all run
// against a controllable clock in tests.
package clock

import "time"

// Clock is the time source used by every time-dependent component.
// Code in this repo never calls time.Now or time.After directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// After returns a channel that receives the clock's time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real is the production clock, delegating to the time package.
type Real struct{}

// NewReal returns the wall clock.
func NewReal() *Real {
	return &Real{}
}

func (*Real) Now() time.Time {
	return time.Now()
}

func (*Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (*Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
