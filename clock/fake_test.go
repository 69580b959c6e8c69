package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	fc := NewFake(epoch)
	var got []string
	fc.AfterFunc(300*time.Millisecond, func() { got = append(got, "c") })
	fc.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	fc.AfterFunc(100*time.Millisecond, func() { got = append(got, "b") })

	fc.Advance(99 * time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("expected nothing fired before deadline, got %v", got)
	}
	fc.Advance(time.Second)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if now := fc.Now(); !now.Equal(epoch.Add(1099 * time.Millisecond)) {
		t.Fatalf("unexpected now %v", now)
	}
}

func TestFakeNowDuringCallbackIsDeadline(t *testing.T) {
	fc := NewFake(epoch)
	var seen time.Time
	fc.AfterFunc(250*time.Millisecond, func() { seen = fc.Now() })
	fc.Advance(time.Second)
	if !seen.Equal(epoch.Add(250 * time.Millisecond)) {
		t.Fatalf("callback saw %v, want deadline", seen)
	}
}

func TestFakeChainedTimersFireWithinOneAdvance(t *testing.T) {
	fc := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 5 {
			fc.AfterFunc(10*time.Millisecond, tick)
		}
	}
	fc.AfterFunc(10*time.Millisecond, tick)
	fc.Advance(45 * time.Millisecond)
	if count != 4 {
		t.Fatalf("expected 4 ticks by 45ms, got %d", count)
	}
	fc.Advance(5 * time.Millisecond)
	if count != 5 {
		t.Fatalf("expected 5 ticks by 50ms, got %d", count)
	}
	if fc.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", fc.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	fc := NewFake(epoch)
	fired := false
	tm := fc.AfterFunc(time.Millisecond, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("expected Stop to report pending timer")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	fc.Advance(time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeZeroDelayFiresOnNextAdvance(t *testing.T) {
	fc := NewFake(epoch)
	fired := false
	fc.AfterFunc(-5*time.Millisecond, func() { fired = true })
	if fired {
		t.Fatal("timer must not fire synchronously from AfterFunc")
	}
	fc.Advance(0)
	if !fired {
		t.Fatal("expected zero-delay timer to fire on Advance(0)")
	}
	if d := fc.Deadlines(); len(d) != 0 {
		t.Fatalf("unexpected deadlines %v", d)
	}
}

func TestOrDefaultsToReal(t *testing.T) {
	if _, ok := Or(nil).(realClock); !ok {
		t.Fatal("Or(nil) should return the real clock")
	}
	fc := NewFake(epoch)
	if Or(fc) != Clock(fc) {
		t.Fatal("Or should keep a non-nil clock")
	}
}
