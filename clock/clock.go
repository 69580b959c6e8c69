// Package clock abstracts wall time and one-shot timers so that scheduling code
// (sequence playback, auto players, chat cooldowns) can run against the real clock
// in production and against a deterministic fake in tests.
package clock

import "time"

// Clock is the time source used by schedulers.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. A non-positive d fires as soon as possible.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was still pending.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

// Or returns c, or the real clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
