package sequence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/fluxbot/clock"
	"github.com/onnwee/fluxbot/telemetry"
)

// State is the lifecycle state of a Playback.
type State int

const (
	Running State = iota
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PlayOption configures a single run.
type PlayOption func(*Playback)

// WhenDone registers fn to run once when this run ends, whether it finished or was
// cancelled. It runs after the sequence's OnFinished listeners.
func WhenDone(fn func(*Playback)) PlayOption {
	return func(p *Playback) { p.whenDone = append(p.whenDone, fn) }
}

// Playback is one run of a Sequence. It is safe for concurrent use.
type Playback struct {
	id     string
	seq    *Sequence
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	empty    bool
	start    time.Time
	cursor   int
	target   time.Time
	timer    clock.Timer
	done     chan struct{}
	whenDone []func(*Playback)
	span     trace.Span
	stopCtx  func() bool
}

func newPlayback(ctx context.Context, s *Sequence, opts []PlayOption) *Playback {
	p := &Playback{
		id:    uuid.NewString(),
		seq:   s,
		clock: s.clock,
		done:  make(chan struct{}),
	}
	p.logger = s.logger.With(
		slog.String("component", "sequence"),
		slog.String("sequence", s.name),
		slog.String("run_id", p.id))
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		p.logger = p.logger.With(slog.String("corr", corr))
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Playback) markEmpty() {
	p.mu.Lock()
	p.empty = true
	p.state = Finished
	p.start = p.clock.Now()
	p.whenDone = nil
	close(p.done)
	p.mu.Unlock()
	p.logger.Debug("empty sequence played")
}

func (p *Playback) begin(ctx context.Context) {
	_, span := telemetry.StartSpan(ctx, "sequence", "sequence.run",
		telemetry.SequenceAttr(p.seq.name), telemetry.RunAttr(p.id))

	p.mu.Lock()
	p.span = span
	p.start = p.clock.Now()
	p.target = p.start
	p.mu.Unlock()

	telemetry.IncSequence(telemetry.SequenceRunsStarted, p.seq.name)
	if err := ctx.Err(); err != nil {
		p.logger.Debug("sequence run started on a done context", slog.Any("err", err))
		p.Cancel()
		return
	}
	p.logger.Debug("sequence run started", slog.Int("events", p.seq.Len()))

	p.step(0)

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { p.Cancel() })
		p.mu.Lock()
		if p.state == Running {
			p.stopCtx = stop
			stop = nil
		}
		p.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
}

// step performs timeline[i] and schedules whatever comes next. Every deadline is
// computed from the run's start so timer lateness does not accumulate. Actions
// after a Cancel, including one made by an earlier action of the same event, are
// skipped.
func (p *Playback) step(i int) {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.cursor = i
	p.observeLatenessLocked()
	p.mu.Unlock()

	ev := p.seq.timeline[i]
	for _, a := range ev.Actions {
		if p.State() != Running {
			return
		}
		a.Perform()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running {
		return
	}
	timeline := p.seq.timeline
	if i+1 < len(timeline) {
		p.scheduleLocked(p.start.Add(timeline[i+1].At), func() { p.step(i + 1) })
		return
	}
	end := ev.At + ev.Duration()
	if d := p.seq.Duration(); d > end {
		end = d
	}
	p.scheduleLocked(p.start.Add(end), p.finish)
}

func (p *Playback) scheduleLocked(target time.Time, f func()) {
	p.target = target
	wait := target.Sub(p.clock.Now())
	if wait < 0 {
		wait = 0
	}
	p.timer = p.clock.AfterFunc(wait, f)
}

func (p *Playback) observeLatenessLocked() {
	if late := p.clock.Now().Sub(p.target); late > 0 {
		telemetry.Observe(telemetry.TimerLateness, late)
	}
}

func (p *Playback) finish() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.observeLatenessLocked()
	callbacks := p.endLocked(Finished)
	elapsed := p.clock.Now().Sub(p.start)
	p.mu.Unlock()

	telemetry.IncSequence(telemetry.SequenceRunsFinished, p.seq.name)
	telemetry.SetSpanSuccess(p.span)
	p.span.End()
	p.logger.Debug("sequence run finished", slog.Duration("elapsed", elapsed))

	p.seq.notifyFinished()
	for _, fn := range callbacks {
		fn(p)
	}
}

// Cancel stops the run. No further events are performed and the sequence's
// OnFinished listeners are not notified. It reports whether the run was still
// running.
func (p *Playback) Cancel() bool {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	callbacks := p.endLocked(Cancelled)
	cursor := p.cursor
	p.mu.Unlock()

	telemetry.IncSequence(telemetry.SequenceRunsCancelled, p.seq.name)
	if p.span != nil {
		p.span.SetStatus(telemetry.ErrorStatus("cancelled"))
		p.span.End()
	}
	p.logger.Debug("sequence run cancelled", slog.Int("cursor", cursor))

	for _, fn := range callbacks {
		fn(p)
	}
	return true
}

func (p *Playback) endLocked(state State) []func(*Playback) {
	p.state = state
	p.timer = nil
	close(p.done)
	if p.stopCtx != nil {
		p.stopCtx()
		p.stopCtx = nil
	}
	callbacks := p.whenDone
	p.whenDone = nil
	return callbacks
}

// ID returns the run identifier.
func (p *Playback) ID() string { return p.id }

// Sequence returns the sequence being played.
func (p *Playback) Sequence() *Sequence { return p.seq }

// State returns the current lifecycle state.
func (p *Playback) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Empty reports whether the run was of an empty sequence.
func (p *Playback) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.empty
}

// Started returns the run's start anchor.
func (p *Playback) Started() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start
}

// Cursor returns the index of the most recently performed timeline entry.
func (p *Playback) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Done is closed when the run finishes or is cancelled.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Wait blocks until the run ends or ctx is done, and returns the final state.
func (p *Playback) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.done:
		return p.State(), nil
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}
