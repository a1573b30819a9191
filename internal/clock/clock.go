// Package clock lets the room coordinator schedule deadlines against an
// injectable time source. Production code uses Real(); tests use Fake()
// and drive time with Advance.
package clock

import "time"

// Clock abstracts the time operations used by rooms and the registry.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f after d elapses. The returned Timer can cancel the
	// pending call.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker delivers periodic ticks. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
