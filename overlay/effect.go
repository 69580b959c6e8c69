package overlay

import (
	"sync"
	"time"
)

// EffectType names what a browser should render.
type EffectType string

const (
	EffectImage     EffectType = "image"
	EffectSound     EffectType = "sound"
	EffectText      EffectType = "text"
	EffectClearText EffectType = "clearText"
)

// Effect is one presentation request for the connected browsers.
type Effect struct {
	ID         string     `json:"id"`
	Type       EffectType `json:"type"`
	Name       string     `json:"name,omitempty"`
	Text       string     `json:"text,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
	FadeMs     int64      `json:"fadeMs,omitempty"`
}

// AwaitsCompletion reports whether browsers acknowledge the end of the effect.
// Sounds always do; images and text only when shown for a bounded time.
func (e Effect) AwaitsCompletion() bool {
	switch e.Type {
	case EffectSound:
		return true
	case EffectImage, EffectText:
		return e.DurationMs > 0
	default:
		return false
	}
}

func durationMs(d time.Duration) int64 { return d.Milliseconds() }

// Resource is a started effect.
type Resource interface {
	// OnComplete calls fn once the effect ends. If it already ended, fn runs at once.
	OnComplete(fn func())
}

// Stage renders effects, usually on every browser connected to the overlay.
type Stage interface {
	Present(e Effect) Resource
	SetVolume(v float64)
}

// Emitter receives acknowledgements such as "imgdispDone" from the overlay client.
type Emitter interface {
	Emit(event string, data any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, data any)

func (f EmitterFunc) Emit(event string, data any) { f(event, data) }

// Completion is a Resource completed explicitly with Complete.
type Completion struct {
	mu   sync.Mutex
	done bool
	fns  []func()
}

// NewCompletion returns a pending Completion.
func NewCompletion() *Completion { return &Completion{} }

// Completed returns a Completion that has already ended.
func Completed() *Completion { return &Completion{done: true} }

func (c *Completion) OnComplete(fn func()) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		fn()
		return
	}
	c.fns = append(c.fns, fn)
	c.mu.Unlock()
}

// Complete runs pending callbacks in registration order. Later calls do nothing.
// It reports whether this call completed the resource.
func (c *Completion) Complete() bool {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return false
	}
	c.done = true
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

// Done reports whether Complete was called.
func (c *Completion) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
