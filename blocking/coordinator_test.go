package blocking

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestPerformRunsImmediatelyWhenFree(t *testing.T) {
	c := NewCoordinator()
	ran := false
	c.PerformOne(LaneImage, func() { ran = true })
	if !ran {
		t.Fatal("expected action to run synchronously on free lane")
	}
	if !c.Held(LaneImage) {
		t.Fatal("expected Image to be held after grant")
	}
}

func TestMultiLaneHolderBlocksSingleLaneRequest(t *testing.T) {
	c := NewCoordinator()
	var log []string

	c.Perform([]string{LaneImage, LaneSound}, func() { log = append(log, "A") })
	c.PerformOne(LaneImage, func() { log = append(log, "B") })

	if got := strings.Join(log, ","); got != "A" {
		t.Fatalf("after perform: got %q, want A", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected B queued, pending=%d", c.Pending())
	}

	c.Free(LaneImage, LaneSound)
	if got := strings.Join(log, ","); got != "A,B" {
		t.Fatalf("after free: got %q, want A,B", got)
	}
	if c.Held(LaneSound) {
		t.Fatal("Sound should be free")
	}
	if !c.Held(LaneImage) {
		t.Fatal("Image should be held by B")
	}
}

func TestMutualExclusionOnSharedLane(t *testing.T) {
	c := NewCoordinator()
	var log []string

	c.PerformOne("Lane", func() { log = append(log, "first:start") })
	c.PerformOne("Lane", func() { log = append(log, "second:start") })

	log = append(log, "first:free")
	c.Free("Lane")

	want := "first:start,first:free,second:start"
	if got := strings.Join(log, ","); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFIFOPerLane(t *testing.T) {
	c := NewCoordinator()
	var order []int

	c.PerformOne(LaneSound, func() {})
	for i := 1; i <= 5; i++ {
		i := i
		c.PerformOne(LaneSound, func() { order = append(order, i) })
	}
	for i := 0; i < 5; i++ {
		c.Free(LaneSound)
	}
	for i, got := range order {
		if got != i+1 {
			t.Fatalf("order = %v, want 1..5", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 grants, got %v", order)
	}
}

func TestNoPartialAcquisition(t *testing.T) {
	c := NewCoordinator()
	var log []string

	// B is held by someone else.
	c.PerformOne("B", func() { log = append(log, "holderB") })
	// Request {A, B}: A is free but must not be reserved alone.
	c.Perform([]string{"A", "B"}, func() { log = append(log, "AB") })
	if c.Held("A") {
		t.Fatal("A must not be reserved while B is unavailable")
	}

	// A later request for A alone must wait behind {A, B} instead of slipping in.
	c.PerformOne("A", func() { log = append(log, "A") })
	if got := strings.Join(log, ","); got != "holderB" {
		t.Fatalf("got %q, want holderB only", got)
	}

	c.Free("B")
	if got := strings.Join(log, ","); got != "holderB,AB" {
		t.Fatalf("got %q, want holderB,AB", got)
	}
	if !c.Held("A") || !c.Held("B") {
		t.Fatal("AB should hold both lanes atomically")
	}

	c.Free("A", "B")
	if got := strings.Join(log, ","); got != "holderB,AB,A" {
		t.Fatalf("got %q", got)
	}
}

func TestOpposingMultiLaneOrderDoesNotDeadlock(t *testing.T) {
	c := NewCoordinator()
	var log []string

	c.PerformOne("X", func() { log = append(log, "hold") })
	c.Perform([]string{"X", "Y"}, func() { log = append(log, "XY") })
	c.Perform([]string{"Y", "X"}, func() { log = append(log, "YX") })

	c.Free("X")
	if got := strings.Join(log, ","); got != "hold,XY" {
		t.Fatalf("got %q, want hold,XY", got)
	}
	c.Free("X", "Y")
	if got := strings.Join(log, ","); got != "hold,XY,YX" {
		t.Fatalf("got %q, want hold,XY,YX", got)
	}
}

func TestPartialReleaseFreesIndividualLanes(t *testing.T) {
	c := NewCoordinator()
	var log []string

	c.Perform([]string{LaneImage, LaneSound}, func() { log = append(log, "both") })
	c.PerformOne(LaneSound, func() { log = append(log, "sound") })
	c.PerformOne(LaneImage, func() { log = append(log, "image") })

	c.Free(LaneImage)
	if got := strings.Join(log, ","); got != "both,image" {
		t.Fatalf("got %q, want both,image", got)
	}
	c.Free(LaneSound)
	if got := strings.Join(log, ","); got != "both,image,sound" {
		t.Fatalf("got %q, want both,image,sound", got)
	}
}

func TestReentrantFreeFromAction(t *testing.T) {
	c := NewCoordinator()
	var log []string

	for i := 0; i < 3; i++ {
		i := i
		c.PerformOne(LaneText, func() {
			log = append(log, string(rune('a'+i)))
			c.Free(LaneText)
		})
	}
	if got := strings.Join(log, ""); got != "abc" {
		t.Fatalf("got %q, want abc", got)
	}
	if c.Held(LaneText) || c.Pending() != 0 {
		t.Fatal("expected everything released")
	}
	if len(c.Snapshot()) != 0 {
		t.Fatalf("expected lane to be forgotten, got %+v", c.Snapshot())
	}
}

func TestImbalancedReleaseIsLoggedAndIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewCoordinator(WithLogger(logger))

	c.Free("Nope")
	if got := c.Stats().ImbalancedReleases; got != 1 {
		t.Fatalf("imbalanced releases = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "lane=Nope") {
		t.Fatalf("expected warning naming the lane, got %q", buf.String())
	}

	// The coordinator keeps working afterwards.
	ran := false
	c.PerformOne("Nope", func() { ran = true })
	if !ran {
		t.Fatal("coordinator stopped granting after bad release")
	}
}

func TestDuplicateLanesCollapse(t *testing.T) {
	c := NewCoordinator()
	ran := false
	c.Perform([]string{"A", "A"}, func() { ran = true })
	if !ran {
		t.Fatal("duplicate lane request should be granted")
	}
	c.Free("A")
	if c.Held("A") {
		t.Fatal("single Free should release deduplicated lane")
	}
}

func TestEmptyLaneListIgnored(t *testing.T) {
	c := NewCoordinator()
	ran := false
	c.Perform(nil, func() { ran = true })
	if ran {
		t.Fatal("empty lane request must not run")
	}
	if c.Stats().Requests != 0 {
		t.Fatal("empty request must not be counted")
	}
}

func TestSnapshotAndStats(t *testing.T) {
	c := NewCoordinator()
	c.PerformOne("B", func() {})
	c.Perform([]string{"A", "B"}, func() {})

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[0].Name != "A" || snap[0].Held || snap[0].Waiting != 1 {
		t.Fatalf("lane A = %+v", snap[0])
	}
	if snap[1].Name != "B" || !snap[1].Held || snap[1].Waiting != 1 {
		t.Fatalf("lane B = %+v", snap[1])
	}
	st := c.Stats()
	if st.Requests != 2 || st.Granted != 1 || st.Queued != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestConcurrentCallersNeverOverlap(t *testing.T) {
	c := NewCoordinator()
	var (
		mu     sync.Mutex
		active int
		peak   int
		wg     sync.WaitGroup
	)
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			c.PerformOne(LaneImage, func() {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				go func() {
					mu.Lock()
					active--
					mu.Unlock()
					c.Free(LaneImage)
					wg.Done()
				}()
			})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", peak)
	}
	if c.Held(LaneImage) || c.Pending() != 0 {
		t.Fatal("expected all requests drained")
	}
}

func TestPanickingActionDoesNotStrandBatch(t *testing.T) {
	c := NewCoordinator()
	c.PerformOne("X", func() {})
	c.PerformOne("Y", func() {})
	c.PerformOne("X", func() { panic("boom") })
	ranY := false
	c.PerformOne("Y", func() { ranY = true })

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("recovered %v, want boom", r)
			}
		}()
		c.Free("X", "Y")
	}()

	if !ranY {
		t.Fatal("action granted with the panicking one never ran")
	}
	if !c.Held("X") || !c.Held("Y") {
		t.Fatal("expected both lanes held by their new holders")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}
