package sequence

import "time"

// Stage renders sequence actions. Implementations must be safe for use from timer
// goroutines.
type Stage interface {
	ShowImage(name string)
	PlaySound(name string)
	ShowText(text string)
	ClearText()
	// SoundDuration returns the length of a sound, or 0 while it is still unknown.
	SoundDuration(name string) time.Duration
}

// Kind identifies an action variant.
type Kind string

const (
	KindImage     Kind = "image"
	KindSound     Kind = "sound"
	KindText      Kind = "text"
	KindClearText Kind = "clear_text"
	KindFunc      Kind = "func"
)

// Action is one effect inside a TimedEvent.
type Action interface {
	Kind() Kind
	Perform()
	// Duration is how long the effect keeps running after Perform.
	Duration() time.Duration
}

// ImageAction swaps the displayed image.
type ImageAction struct {
	Name  string
	stage Stage
}

// Image returns an action showing the named image on st.
func Image(st Stage, name string) ImageAction { return ImageAction{Name: name, stage: st} }

func (a ImageAction) Kind() Kind              { return KindImage }
func (a ImageAction) Perform()                { a.stage.ShowImage(a.Name) }
func (a ImageAction) Duration() time.Duration { return 0 }

// SoundAction starts a sound. Its duration is read from the stage on every call
// so that lengths reported after the sequence was built are picked up.
type SoundAction struct {
	Name  string
	stage Stage
}

// Sound returns an action playing the named sound on st.
func Sound(st Stage, name string) SoundAction { return SoundAction{Name: name, stage: st} }

func (a SoundAction) Kind() Kind              { return KindSound }
func (a SoundAction) Perform()                { a.stage.PlaySound(a.Name) }
func (a SoundAction) Duration() time.Duration { return a.stage.SoundDuration(a.Name) }

// TextAction shows a caption.
type TextAction struct {
	Text  string
	stage Stage
}

// Text returns an action showing text on st.
func Text(st Stage, text string) TextAction { return TextAction{Text: text, stage: st} }

func (a TextAction) Kind() Kind              { return KindText }
func (a TextAction) Perform()                { a.stage.ShowText(a.Text) }
func (a TextAction) Duration() time.Duration { return 0 }

// ClearTextAction hides the caption.
type ClearTextAction struct {
	stage Stage
}

// ClearText returns an action hiding the caption on st.
func ClearText(st Stage) ClearTextAction { return ClearTextAction{stage: st} }

func (a ClearTextAction) Kind() Kind              { return KindClearText }
func (a ClearTextAction) Perform()                { a.stage.ClearText() }
func (a ClearTextAction) Duration() time.Duration { return 0 }

// FuncAction runs an arbitrary callback with a fixed duration.
type FuncAction struct {
	Do     func()
	Length time.Duration
}

// Func returns an action calling do, reported as lasting length.
func Func(do func(), length time.Duration) FuncAction { return FuncAction{Do: do, Length: length} }

func (a FuncAction) Kind() Kind { return KindFunc }

func (a FuncAction) Perform() {
	if a.Do != nil {
		a.Do()
	}
}

func (a FuncAction) Duration() time.Duration { return a.Length }

// TimedEvent is a set of actions performed together at an offset from the start
// of a sequence.
type TimedEvent struct {
	At      time.Duration
	Actions []Action
}

// Event builds a TimedEvent at offset at.
func Event(at time.Duration, actions ...Action) TimedEvent {
	return TimedEvent{At: at, Actions: actions}
}

// Perform runs every action in order.
func (e TimedEvent) Perform() {
	for _, a := range e.Actions {
		a.Perform()
	}
}

// Duration is the longest duration among the event's actions.
func (e TimedEvent) Duration() time.Duration {
	var longest time.Duration
	for _, a := range e.Actions {
		if d := a.Duration(); d > longest {
			longest = d
		}
	}
	return longest
}
