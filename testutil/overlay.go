package testutil

import (
	"sync"

	"github.com/google/uuid"

	"github.com/onnwee/fluxbot/overlay"
)

// RecordingStage is an overlay.Stage that records effects and leaves tracked
// effects pending until the test completes them.
type RecordingStage struct {
	mu      sync.Mutex
	effects []overlay.Effect
	pending map[string]*overlay.Completion
	volumes []float64
}

// NewRecordingStage returns an empty RecordingStage.
func NewRecordingStage() *RecordingStage {
	return &RecordingStage{pending: make(map[string]*overlay.Completion)}
}

// Present records e. Effects that await completion stay pending.
func (s *RecordingStage) Present(e overlay.Effect) overlay.Resource {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects = append(s.effects, e)
	if !e.AwaitsCompletion() {
		return overlay.Completed()
	}
	c := overlay.NewCompletion()
	s.pending[e.ID] = c
	return c
}

func (s *RecordingStage) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes = append(s.volumes, v)
}

// Effects returns a copy of the recorded effects.
func (s *RecordingStage) Effects() []overlay.Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]overlay.Effect(nil), s.effects...)
}

// Summary renders the effects as "type:name" strings, using the text for captions.
func (s *RecordingStage) Summary() []string {
	effects := s.Effects()
	out := make([]string, len(effects))
	for i, e := range effects {
		arg := e.Name
		if e.Type == overlay.EffectText {
			arg = e.Text
		}
		out[i] = string(e.Type) + ":" + arg
	}
	return out
}

// Volumes returns every volume set so far.
func (s *RecordingStage) Volumes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.volumes...)
}

// Pending returns the number of effects awaiting completion.
func (s *RecordingStage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Complete finishes the pending effect with id. It reports whether one was pending.
func (s *RecordingStage) Complete(id string) bool {
	s.mu.Lock()
	c, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	return c.Complete()
}

// CompleteType finishes every pending effect of type t, oldest first.
// It returns how many were completed.
func (s *RecordingStage) CompleteType(t overlay.EffectType) int {
	s.mu.Lock()
	var ids []string
	for _, e := range s.effects {
		if _, ok := s.pending[e.ID]; ok && e.Type == t {
			ids = append(ids, e.ID)
		}
	}
	s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if s.Complete(id) {
			n++
		}
	}
	return n
}

// Emitted is one acknowledgement captured by EventRecorder.
type Emitted struct {
	Event string
	Data  any
}

// EventRecorder is an overlay.Emitter that keeps every acknowledgement.
type EventRecorder struct {
	mu     sync.Mutex
	events []Emitted
}

func (r *EventRecorder) Emit(event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Emitted{Event: event, Data: data})
}

// Events returns a copy of the recorded acknowledgements.
func (r *EventRecorder) Events() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *EventRecorder) Names() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Event
	}
	return out
}
