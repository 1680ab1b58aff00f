// Package clock abstracts wall time so that cache expiry and task
// scheduling can be driven deterministically in tests.
//
// Production code uses Real(); tests use Fake() and call Advance to
// move time forward. Only the operations the cache needs are exposed:
// reading the current time and scheduling a callback.
package clock

import "time"

// Clock is the time source used by the scheduler and the mipmap stacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f in its own goroutine
	// (real) or synchronously during Advance (fake). If d <= 0 the fake
	// clock calls f before returning.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
