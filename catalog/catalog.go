// Package catalog loads overlay sequences and sounds from a YAML file.
//
// Example:
//
//	base_image: idle.png
//	sounds:
//	  - name: squawk
//	    duration_ms: 1200
//	sequences:
//	  - name: hey
//	    auto_play: true
//	    events:
//	      - at: 0
//	        actions:
//	          - image: talk.png
//	          - sound: squawk
//	      - at: 1500
//	        actions:
//	          - text: hello chat
//	          - clear_text: true
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/fluxbot/sequence"
)

var (
	// ErrUnknownSound is returned when a sequence plays a sound that is not declared.
	ErrUnknownSound = errors.New("sound not declared in catalog")
	// ErrInvalidAction is returned for an action that does not name exactly one effect.
	ErrInvalidAction = errors.New("action must set exactly one of image, sound, text, clear_text")
	// ErrDuplicateName is returned when two sequences or sounds share a name.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrOutOfRange is returned for an offset or duration above MaxMillis.
	ErrOutOfRange = errors.New("value out of range")
)

// MaxMillis bounds every millisecond value in a catalog (24h).
const MaxMillis = int64(24 * time.Hour / time.Millisecond)

// Catalog is the parsed file.
type Catalog struct {
	BaseImage string         `yaml:"base_image"`
	Sounds    []SoundSpec    `yaml:"sounds"`
	Sequences []SequenceSpec `yaml:"sequences"`
}

// SoundSpec declares a sound. DurationMs is optional; browsers report it on load.
type SoundSpec struct {
	Name       string `yaml:"name"`
	DurationMs int64  `yaml:"duration_ms"`
}

// SequenceSpec declares one sequence.
type SequenceSpec struct {
	Name     string      `yaml:"name"`
	AutoPlay bool        `yaml:"auto_play"`
	Events   []EventSpec `yaml:"events"`
}

// EventSpec is a TimedEvent with its offset in milliseconds.
type EventSpec struct {
	At      int64        `yaml:"at"`
	Actions []ActionSpec `yaml:"actions"`
}

// ActionSpec sets exactly one field.
type ActionSpec struct {
	Image     string `yaml:"image,omitempty"`
	Sound     string `yaml:"sound,omitempty"`
	Text      string `yaml:"text,omitempty"`
	ClearText bool   `yaml:"clear_text,omitempty"`
}

func (a ActionSpec) count() int {
	n := 0
	for _, set := range []bool{a.Image != "", a.Sound != "", a.Text != "", a.ClearText} {
		if set {
			n++
		}
	}
	return n
}

// Load reads and parses path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks names, offsets and action shapes.
func (c *Catalog) Validate() error {
	sounds := make(map[string]bool, len(c.Sounds))
	for i, s := range c.Sounds {
		if s.Name == "" {
			return fmt.Errorf("sound %d: empty name", i)
		}
		if sounds[s.Name] {
			return fmt.Errorf("sound %q: %w", s.Name, ErrDuplicateName)
		}
		if s.DurationMs < 0 {
			return fmt.Errorf("sound %q: negative duration_ms", s.Name)
		}
		if s.DurationMs > MaxMillis {
			return fmt.Errorf("sound %q: duration_ms %d: %w", s.Name, s.DurationMs, ErrOutOfRange)
		}
		sounds[s.Name] = true
	}

	names := make(map[string]bool, len(c.Sequences))
	for i, seq := range c.Sequences {
		if seq.Name == "" {
			return fmt.Errorf("sequence %d: empty name", i)
		}
		if names[seq.Name] {
			return fmt.Errorf("sequence %q: %w", seq.Name, ErrDuplicateName)
		}
		names[seq.Name] = true
		for j, ev := range seq.Events {
			if ev.At < 0 {
				return fmt.Errorf("sequence %q event %d: %w", seq.Name, j, sequence.ErrNegativeOffset)
			}
			if ev.At > MaxMillis {
				return fmt.Errorf("sequence %q event %d: at %d: %w", seq.Name, j, ev.At, ErrOutOfRange)
			}
			for k, a := range ev.Actions {
				if a.count() != 1 {
					return fmt.Errorf("sequence %q event %d action %d: %w", seq.Name, j, k, ErrInvalidAction)
				}
				if a.Sound != "" && !sounds[a.Sound] {
					return fmt.Errorf("sequence %q event %d: %q: %w", seq.Name, j, a.Sound, ErrUnknownSound)
				}
			}
		}
	}
	return nil
}

// SoundNames returns every declared sound, sorted.
func (c *Catalog) SoundNames() []string {
	out := make([]string, 0, len(c.Sounds))
	for _, s := range c.Sounds {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// DeclaredDurations returns the sounds whose length is given in the file.
func (c *Catalog) DeclaredDurations() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, s := range c.Sounds {
		if s.DurationMs > 0 {
			out[s.Name] = time.Duration(s.DurationMs) * time.Millisecond
		}
	}
	return out
}

// AutoPlayNames returns the sequences marked auto_play, in file order.
func (c *Catalog) AutoPlayNames() []string {
	var out []string
	for _, s := range c.Sequences {
		if s.AutoPlay {
			out = append(out, s.Name)
		}
	}
	return out
}

// Build binds every sequence to st. opts are applied to each sequence after its name.
// Durations are calculated once with whatever sound lengths st knows so far.
func (c *Catalog) Build(st sequence.Stage, opts ...sequence.Option) (map[string]*sequence.Sequence, error) {
	out := make(map[string]*sequence.Sequence, len(c.Sequences))
	for _, spec := range c.Sequences {
		events := make([]sequence.TimedEvent, 0, len(spec.Events))
		for _, ev := range spec.Events {
			actions := make([]sequence.Action, 0, len(ev.Actions))
			for _, a := range ev.Actions {
				actions = append(actions, bind(st, a))
			}
			events = append(events, sequence.Event(time.Duration(ev.At)*time.Millisecond, actions...))
		}
		seqOpts := append([]sequence.Option{sequence.WithName(spec.Name)}, opts...)
		seq, err := sequence.New(events, seqOpts...)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", spec.Name, err)
		}
		seq.CalculateDuration()
		out[spec.Name] = seq
	}
	return out, nil
}

func bind(st sequence.Stage, a ActionSpec) sequence.Action {
	switch {
	case a.Image != "":
		return sequence.Image(st, a.Image)
	case a.Sound != "":
		return sequence.Sound(st, a.Sound)
	case a.Text != "":
		return sequence.Text(st, a.Text)
	default:
		return sequence.ClearText(st)
	}
}
