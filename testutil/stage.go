package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/fluxbot/clock"
)

// StageCall is one call recorded by SequenceStage.
type StageCall struct {
	At  time.Duration
	Op  string
	Arg string
}

func (c StageCall) String() string {
	return fmt.Sprintf("%s:%s@%v", c.Op, c.Arg, c.At)
}

// SequenceStage records sequence actions with their offset from the stage origin.
// It implements sequence.Stage.
type SequenceStage struct {
	clock  clock.Clock
	origin time.Time

	mu     sync.Mutex
	calls  []StageCall
	sounds map[string]time.Duration
}

// NewSequenceStage returns a stage whose offsets are measured from c.Now().
func NewSequenceStage(c clock.Clock) *SequenceStage {
	return &SequenceStage{clock: c, origin: c.Now(), sounds: map[string]time.Duration{}}
}

func (s *SequenceStage) record(op, arg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StageCall{At: s.clock.Now().Sub(s.origin), Op: op, Arg: arg})
}

func (s *SequenceStage) ShowImage(name string) { s.record("image", name) }
func (s *SequenceStage) PlaySound(name string) { s.record("sound", name) }
func (s *SequenceStage) ShowText(text string)  { s.record("text", text) }
func (s *SequenceStage) ClearText()            { s.record("clear", "") }

// SoundDuration returns the duration set with SetSoundDuration, or 0.
func (s *SequenceStage) SoundDuration(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sounds[name]
}

// SetSoundDuration declares the length of a sound.
func (s *SequenceStage) SetSoundDuration(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sounds[name] = d
}

// Calls returns a copy of the recorded calls.
func (s *SequenceStage) Calls() []StageCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageCall(nil), s.calls...)
}

// Trace renders the recorded calls as strings like "image:a@100ms".
func (s *SequenceStage) Trace() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Reset drops the recorded calls.
func (s *SequenceStage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
