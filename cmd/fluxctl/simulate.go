package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/onnwee/fluxbot/catalog"
	"github.com/onnwee/fluxbot/clock"
	"github.com/onnwee/fluxbot/sequence"
)

var simEpoch = time.Unix(0, 0).UTC()

func runLint(w io.Writer, cfg *Config) error {
	cat, err := catalog.Load(cfg.catalog)
	if err != nil {
		return err
	}
	seqs, err := cat.Build(&printStage{w: io.Discard, sounds: cat.DeclaredDurations()}, sequence.WithLogger(newLogger(cfg)))
	if err != nil {
		return err
	}

	auto := make(map[string]bool)
	for _, name := range cat.AutoPlayNames() {
		auto[name] = true
	}
	fmt.Fprintf(w, "%s: %d sequences, %d sounds\n", cfg.catalog, len(seqs), len(cat.Sounds))
	for _, name := range sortedNames(seqs) {
		seq := seqs[name]
		flag := ""
		if auto[name] {
			flag = "  [auto]"
		}
		fmt.Fprintf(w, "  %-20s %3d events  %8s%s\n", name, seq.Len(), seq.Duration(), flag)
	}
	var undeclared []string
	for _, s := range cat.Sounds {
		if s.DurationMs == 0 {
			undeclared = append(undeclared, s.Name)
		}
	}
	if len(undeclared) > 0 {
		fmt.Fprintf(w, "warning: sounds without duration_ms count as 0 until a browser reports them: %v\n", undeclared)
	}
	return nil
}

func runSimulate(w io.Writer, cfg *Config) error {
	cat, err := catalog.Load(cfg.catalog)
	if err != nil {
		return err
	}
	fc := clock.NewFake(simEpoch)
	st := &printStage{w: w, clock: fc, sounds: cat.DeclaredDurations()}
	seqs, err := cat.Build(st, sequence.WithClock(fc), sequence.WithLogger(newLogger(cfg)))
	if err != nil {
		return err
	}

	names := sortedNames(seqs)
	if cfg.sequence != "" {
		if _, ok := seqs[cfg.sequence]; !ok {
			return fmt.Errorf("unknown sequence %q (have %v)", cfg.sequence, names)
		}
		names = []string{cfg.sequence}
	}

	for _, name := range names {
		seq := seqs[name]
		fmt.Fprintf(w, "== %s (%d events, %s)\n", name, seq.Len(), seq.Duration())
		st.start = fc.Now()

		var runs []*sequence.Playback
		for i := 1; i <= cfg.runs; i++ {
			if i > 1 {
				if cfg.gap > 0 {
					fc.Advance(cfg.gap)
				} else {
					drain(fc, runs...)
				}
			}
			n := i
			p := seq.Play(sequence.WhenDone(func(p *sequence.Playback) {
				fmt.Fprintf(w, "%10s  run %d %s\n", st.offset(), n, p.State())
			}))
			if p.Empty() {
				fmt.Fprintf(w, "%10s  run %d empty\n", st.offset(), n)
			}
			runs = append(runs, p)
		}
		drain(fc, runs...)
	}
	return nil
}

// drain advances fc from deadline to deadline until every run has ended.
func drain(fc *clock.Fake, runs ...*sequence.Playback) {
	for running(runs) {
		deadlines := fc.Deadlines()
		if len(deadlines) == 0 {
			return
		}
		fc.Advance(deadlines[0].Sub(fc.Now()))
	}
}

func running(runs []*sequence.Playback) bool {
	for _, p := range runs {
		if p.State() == sequence.Running {
			return true
		}
	}
	return false
}

func sortedNames(seqs map[string]*sequence.Sequence) []string {
	names := make([]string, 0, len(seqs))
	for name := range seqs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newLogger(cfg *Config) *slog.Logger {
	if !cfg.verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// printStage writes each action with its offset from the start of the sequence.
type printStage struct {
	w      io.Writer
	clock  clock.Clock
	start  time.Time
	sounds map[string]time.Duration
}

func (s *printStage) offset() string {
	if s.clock == nil {
		return "+0s"
	}
	return "+" + s.clock.Now().Sub(s.start).String()
}

func (s *printStage) ShowImage(name string) {
	fmt.Fprintf(s.w, "%10s  image %s\n", s.offset(), name)
}

func (s *printStage) PlaySound(name string) {
	fmt.Fprintf(s.w, "%10s  sound %s (%s)\n", s.offset(), name, s.sounds[name])
}

func (s *printStage) ShowText(text string) {
	fmt.Fprintf(s.w, "%10s  text  %q\n", s.offset(), text)
}

func (s *printStage) ClearText() {
	fmt.Fprintf(s.w, "%10s  clear\n", s.offset())
}

func (s *printStage) SoundDuration(name string) time.Duration { return s.sounds[name] }
