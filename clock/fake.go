package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Timers fire synchronously inside Advance,
// in deadline order with ties broken by registration order. Timers registered
// by a firing callback fire in the same Advance call when they are already due.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	fc       *Fake
	deadline time.Time
	seq      uint64
	f        func()
}

// NewFake returns a Fake clock reading start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (fc *Fake) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

// AfterFunc registers f to fire once the fake time reaches now+d.
func (fc *Fake) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.seq++
	t := &fakeTimer{fc: fc, deadline: fc.now.Add(d), seq: fc.seq, f: f}
	fc.timers = append(fc.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (fc *Fake) Advance(d time.Duration) {
	fc.mu.Lock()
	target := fc.now.Add(d)
	fc.mu.Unlock()
	fc.advanceTo(target)
}

// Set moves the clock to t (never backwards), firing timers that come due.
func (fc *Fake) Set(t time.Time) {
	fc.advanceTo(t)
}

func (fc *Fake) advanceTo(target time.Time) {
	for {
		fc.mu.Lock()
		next := fc.popDueLocked(target)
		if next == nil {
			if target.After(fc.now) {
				fc.now = target
			}
			fc.mu.Unlock()
			return
		}
		if next.deadline.After(fc.now) {
			fc.now = next.deadline
		}
		fc.mu.Unlock()
		next.f()
	}
}

func (fc *Fake) popDueLocked(target time.Time) *fakeTimer {
	if len(fc.timers) == 0 {
		return nil
	}
	sort.SliceStable(fc.timers, func(i, j int) bool {
		if fc.timers[i].deadline.Equal(fc.timers[j].deadline) {
			return fc.timers[i].seq < fc.timers[j].seq
		}
		return fc.timers[i].deadline.Before(fc.timers[j].deadline)
	})
	first := fc.timers[0]
	if first.deadline.After(target) {
		return nil
	}
	fc.timers = fc.timers[1:]
	return first
}

// Pending returns the number of timers that have not fired or been stopped.
func (fc *Fake) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.timers)
}

// Deadlines returns the pending timer deadlines in firing order.
func (fc *Fake) Deadlines() []time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]time.Time, 0, len(fc.timers))
	for _, t := range fc.timers {
		out = append(out, t.deadline)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (t *fakeTimer) Stop() bool {
	fc := t.fc
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i, other := range fc.timers {
		if other == t {
			fc.timers = append(fc.timers[:i], fc.timers[i+1:]...)
			return true
		}
	}
	return false
}
