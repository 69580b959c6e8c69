package sequence

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/fluxbot/clock"
)

// MinLaunchInterval is the shortest time a Player waits between launches.
const MinLaunchInterval = time.Second

// Launcher starts a run chosen by a Player and returns a channel closed once that
// run has ended. A nil channel means the run already ended. The default plays s
// and returns its Done channel.
type Launcher func(name string, s *Sequence) <-chan struct{}

// Player plays sequences back to back on its own. After each launch it waits for
// the sequence's duration plus a random delay in [min, max), but never less than
// MinLaunchInterval, before the next one. A launch is skipped while the previous
// run is still queued or playing.
// A Player with one sequence and min == max loops that sequence at a fixed pace.
type Player struct {
	clock  clock.Clock
	launch Launcher
	random func() float64
	logger *slog.Logger

	mu       sync.Mutex
	names    []string
	seqs     map[string]*Sequence
	minDelay time.Duration
	maxDelay time.Duration
	playing  bool
	timer    clock.Timer
	inFlight <-chan struct{}
	launches uint64
	skipped  uint64
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPlayerClock sets the clock used to schedule launches.
func WithPlayerClock(c clock.Clock) PlayerOption {
	return func(p *Player) { p.clock = c }
}

// WithLauncher replaces the default launch behaviour.
func WithLauncher(l Launcher) PlayerOption {
	return func(p *Player) { p.launch = l }
}

// WithRandom sets the source of uniform values in [0, 1).
func WithRandom(f func() float64) PlayerOption {
	return func(p *Player) { p.random = f }
}

// WithPlayerLogger sets the player logger.
func WithPlayerLogger(l *slog.Logger) PlayerOption {
	return func(p *Player) { p.logger = l }
}

// NewRandomPlayer picks uniformly among seqs for every launch.
func NewRandomPlayer(seqs map[string]*Sequence, minDelay, maxDelay time.Duration, opts ...PlayerOption) *Player {
	p := &Player{
		seqs:   make(map[string]*Sequence, len(seqs)),
		random: rand.Float64,
		logger: slog.Default(),
		launch: func(_ string, s *Sequence) <-chan struct{} { return s.Play().Done() },
	}
	for name, s := range seqs {
		p.seqs[name] = s
		p.names = append(p.names, name)
	}
	sort.Strings(p.names)
	for _, o := range opts {
		o(p)
	}
	p.clock = clock.Or(p.clock)
	p.setDelayLocked(minDelay, maxDelay)
	return p
}

// NewLoopingPlayer replays one sequence with a fixed pause between runs.
func NewLoopingPlayer(name string, s *Sequence, pause time.Duration, opts ...PlayerOption) *Player {
	return NewRandomPlayer(map[string]*Sequence{name: s}, pause, pause, opts...)
}

// Play starts launching. The first launch happens immediately unless a run from
// before a Stop is still active. Calling Play while already playing does nothing.
func (p *Player) Play() {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	if len(p.names) == 0 {
		p.mu.Unlock()
		p.logger.Warn("auto player has no sequences", slog.String("component", "player"))
		return
	}
	p.playing = true
	p.mu.Unlock()
	p.next()
}

// Stop cancels the pending launch. Runs already launched continue.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Playing reports whether the player is active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// SetDelay changes the random pause range. It applies from the next launch.
func (p *Player) SetDelay(minDelay, maxDelay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setDelayLocked(minDelay, maxDelay)
}

// Delay returns the current pause range.
func (p *Player) Delay() (minDelay, maxDelay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minDelay, p.maxDelay
}

// Skipped returns the number of launches skipped because the previous run had
// not ended.
func (p *Player) Skipped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}

// Launches returns the number of sequences launched so far.
func (p *Player) Launches() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launches
}

func (p *Player) setDelayLocked(minDelay, maxDelay time.Duration) {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	p.minDelay, p.maxDelay = minDelay, maxDelay
}

func (p *Player) next() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	if busy(p.inFlight) {
		wait := max(p.minDelay, MinLaunchInterval)
		p.timer = p.clock.AfterFunc(wait, p.next)
		p.skipped++
		p.mu.Unlock()
		p.logger.Debug("auto player skipped launch, previous run still active",
			slog.String("component", "player"),
			slog.Duration("next_in", wait))
		return
	}
	name := p.names[int(p.random()*float64(len(p.names)))%len(p.names)]
	s := p.seqs[name]
	wait := s.Duration() + p.minDelay + time.Duration(p.random()*float64(p.maxDelay-p.minDelay))
	wait = max(wait, MinLaunchInterval)
	p.timer = p.clock.AfterFunc(wait, p.next)
	p.launches++
	p.mu.Unlock()

	p.logger.Debug("auto player launching",
		slog.String("component", "player"),
		slog.String("sequence", name),
		slog.Duration("next_in", wait))
	done := p.launch(name, s)

	p.mu.Lock()
	p.inFlight = done
	p.mu.Unlock()
}

func busy(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
