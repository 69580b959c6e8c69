// Package sequence plays declarative, time-stamped multi-track timelines
// (image frames, sounds, captions) against a clock.
//
// A Sequence is immutable once built. Every Play starts an independent Playback
// with its own cursor and start anchor, so the same Sequence may be played again
// before an earlier run ends. Each event is scheduled relative to the run's start
// rather than to the previous event, so late timer fires do not accumulate.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/fluxbot/clock"
)

var (
	// ErrNegativeOffset is returned by New for an event scheduled before time zero.
	ErrNegativeOffset = errors.New("sequence event has negative offset")
	// ErrNilAction is returned by New for an event holding a nil action.
	ErrNilAction = errors.New("sequence event has nil action")
)

// Sequence is an immutable timeline.
type Sequence struct {
	name     string
	timeline []TimedEvent
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	duration  time.Duration
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn func()
}

// Option configures a Sequence.
type Option func(*Sequence)

// WithName labels the sequence in logs, metrics and traces.
func WithName(name string) Option {
	return func(s *Sequence) { s.name = name }
}

// WithClock sets the clock used for scheduling.
func WithClock(c clock.Clock) Option {
	return func(s *Sequence) { s.clock = c }
}

// WithLogger sets the sequence logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequence) { s.logger = l }
}

// New builds a Sequence from events in any order. Events are sorted by offset
// (stable for equal offsets). When the earliest event is after zero, an empty
// event is inserted at zero so every run starts immediately. An empty list is
// valid and yields a sequence whose Play does nothing.
func New(events []TimedEvent, opts ...Option) (*Sequence, error) {
	s := &Sequence{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.clock = clock.Or(s.clock)
	if s.name == "" {
		s.name = "unnamed"
	}

	timeline := make([]TimedEvent, 0, len(events)+1)
	for i, ev := range events {
		if ev.At < 0 {
			return nil, fmt.Errorf("event %d at %v: %w", i, ev.At, ErrNegativeOffset)
		}
		for _, a := range ev.Actions {
			if a == nil {
				return nil, fmt.Errorf("event %d at %v: %w", i, ev.At, ErrNilAction)
			}
		}
		timeline = append(timeline, TimedEvent{At: ev.At, Actions: append([]Action(nil), ev.Actions...)})
	}
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].At < timeline[j].At })
	if len(timeline) > 0 && timeline[0].At > 0 {
		timeline = append([]TimedEvent{{}}, timeline...)
	}
	s.timeline = timeline
	return s, nil
}

// MustNew is New for statically known timelines. It panics on error.
func MustNew(events []TimedEvent, opts ...Option) *Sequence {
	s, err := New(events, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the sequence label.
func (s *Sequence) Name() string { return s.name }

// Len returns the number of timeline entries, including an inserted zero event.
func (s *Sequence) Len() int { return len(s.timeline) }

// Empty reports whether the sequence has no events.
func (s *Sequence) Empty() bool { return len(s.timeline) == 0 }

// Events returns a copy of the sorted timeline.
func (s *Sequence) Events() []TimedEvent {
	out := make([]TimedEvent, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// Kinds returns the distinct action kinds used by the sequence, in first-use order.
func (s *Sequence) Kinds() []Kind {
	var out []Kind
	seen := map[Kind]bool{}
	for _, ev := range s.timeline {
		for _, a := range ev.Actions {
			if k := a.Kind(); !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// CalculateDuration recomputes and caches the total length: the latest
// event offset plus that event's longest action. Call it again once resource
// lengths (e.g. sound durations) become known.
func (s *Sequence) CalculateDuration() time.Duration {
	var total time.Duration
	for _, ev := range s.timeline {
		if end := ev.At + ev.Duration(); end > total {
			total = end
		}
	}
	s.mu.Lock()
	s.duration = total
	s.mu.Unlock()
	return total
}

// Duration returns the value cached by the last CalculateDuration, or 0.
func (s *Sequence) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// OnFinished registers fn to run each time a run of this sequence completes.
// Cancelled runs do not notify. The returned func unregisters fn.
func (s *Sequence) OnFinished(fn func()) (unregister func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Sequence) notifyFinished() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Play starts a new independent run. The first event is performed before Play
// returns. Playing an empty sequence performs nothing, notifies nobody and
// returns a run that is already finished.
func (s *Sequence) Play(opts ...PlayOption) *Playback {
	return s.PlayContext(context.Background(), opts...)
}

// PlayContext is Play with a run that is cancelled when ctx ends.
func (s *Sequence) PlayContext(ctx context.Context, opts ...PlayOption) *Playback {
	p := newPlayback(ctx, s, opts)
	if s.Empty() {
		p.markEmpty()
		return p
	}
	p.begin(ctx)
	return p
}
