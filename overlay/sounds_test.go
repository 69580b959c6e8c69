package overlay

import (
	"testing"
	"time"
)

func TestSoundLibraryReadyHooks(t *testing.T) {
	lib := NewSoundLibrary([]string{"a", "b"})
	calls := 0
	lib.OnReady(func() { calls++ })

	lib.Set("a", time.Second)
	if lib.Ready() || calls != 0 {
		t.Fatalf("ready=%v calls=%d after one of two sounds", lib.Ready(), calls)
	}
	if got := lib.Missing(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("missing = %v", got)
	}

	lib.Set("b", 2*time.Second)
	if !lib.Ready() || calls != 1 {
		t.Fatalf("ready=%v calls=%d after all sounds", lib.Ready(), calls)
	}
	if lib.Set("b", 2*time.Second) {
		t.Fatal("unchanged value reported as change")
	}
	if calls != 1 {
		t.Fatalf("hooks ran for unchanged value: %d", calls)
	}
	lib.Set("b", 3*time.Second)
	if calls != 2 {
		t.Fatalf("hooks did not rerun on change: %d", calls)
	}
	if lib.Duration("b") != 3*time.Second || !lib.Known("a") || lib.Known("c") {
		t.Fatal("unexpected lookups")
	}
}

func TestSoundLibraryWithoutExpectations(t *testing.T) {
	lib := NewSoundLibrary(nil)
	ran := false
	lib.OnReady(func() { ran = true })
	if !lib.Ready() || !ran {
		t.Fatal("library with nothing to wait for should be ready")
	}
}

func TestSoundLibrarySetAll(t *testing.T) {
	lib := NewSoundLibrary([]string{"a", "b"})
	calls := 0
	lib.OnReady(func() { calls++ })
	lib.SetAll(map[string]time.Duration{"a": time.Second, "b": time.Second})
	if !lib.Ready() || calls != 1 {
		t.Fatalf("ready=%v calls=%d", lib.Ready(), calls)
	}
}

func TestCompletion(t *testing.T) {
	c := NewCompletion()
	var order []int
	c.OnComplete(func() { order = append(order, 1) })
	c.OnComplete(func() { order = append(order, 2) })
	if c.Done() || len(order) != 0 {
		t.Fatal("callbacks ran before Complete")
	}
	if !c.Complete() {
		t.Fatal("first Complete returned false")
	}
	if c.Complete() {
		t.Fatal("second Complete returned true")
	}
	c.OnComplete(func() { order = append(order, 3) })
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v", order)
	}

	ran := false
	Completed().OnComplete(func() { ran = true })
	if !ran {
		t.Fatal("Completed resource did not run callback")
	}
}

func TestEffectAwaitsCompletion(t *testing.T) {
	tests := []struct {
		effect Effect
		want   bool
	}{
		{Effect{Type: EffectSound}, true},
		{Effect{Type: EffectImage}, false},
		{Effect{Type: EffectImage, DurationMs: 10}, true},
		{Effect{Type: EffectText, DurationMs: 10}, true},
		{Effect{Type: EffectClearText}, false},
	}
	for _, tt := range tests {
		if got := tt.effect.AwaitsCompletion(); got != tt.want {
			t.Errorf("%+v: got %v, want %v", tt.effect, got, tt.want)
		}
	}
}
