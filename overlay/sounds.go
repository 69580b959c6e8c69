package overlay

import (
	"sort"
	"sync"
	"time"
)

// SoundLibrary tracks sound lengths. Lengths are declared up front or reported by
// browsers once they have loaded a file. When every expected sound is known the
// ready hooks run; they run again on any later change.
type SoundLibrary struct {
	mu        sync.Mutex
	expected  map[string]struct{}
	durations map[string]time.Duration
	hooks     []func()
	ready     bool
}

// NewSoundLibrary expects the given sound names.
func NewSoundLibrary(expected []string) *SoundLibrary {
	l := &SoundLibrary{
		expected:  make(map[string]struct{}, len(expected)),
		durations: make(map[string]time.Duration),
	}
	for _, name := range expected {
		l.expected[name] = struct{}{}
	}
	l.ready = len(l.expected) == 0
	return l
}

// Duration returns the known length of name, or 0.
func (l *SoundLibrary) Duration(name string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.durations[name]
}

// Known reports whether the length of name has been set.
func (l *SoundLibrary) Known(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.durations[name]
	return ok
}

// Ready reports whether every expected sound has a length.
func (l *SoundLibrary) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Missing returns expected sounds without a length, sorted.
func (l *SoundLibrary) Missing() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for name := range l.expected {
		if _, ok := l.durations[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// OnReady registers fn to run whenever the library becomes or stays complete after
// an update. If the library is already complete, fn runs at once.
func (l *SoundLibrary) OnReady(fn func()) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	ready := l.ready
	l.mu.Unlock()
	if ready {
		fn()
	}
}

// Set records the length of name. Unexpected names are kept as well. It reports
// whether the value changed.
func (l *SoundLibrary) Set(name string, d time.Duration) bool {
	l.mu.Lock()
	if old, ok := l.durations[name]; ok && old == d {
		l.mu.Unlock()
		return false
	}
	l.durations[name] = d
	l.ready = l.completeLocked()
	var hooks []func()
	if l.ready {
		hooks = append(hooks, l.hooks...)
	}
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}

// SetAll records several lengths and runs the ready hooks at most once.
func (l *SoundLibrary) SetAll(durations map[string]time.Duration) {
	l.mu.Lock()
	for name, d := range durations {
		l.durations[name] = d
	}
	l.ready = l.completeLocked()
	var hooks []func()
	if l.ready && len(durations) > 0 {
		hooks = append(hooks, l.hooks...)
	}
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (l *SoundLibrary) completeLocked() bool {
	for name := range l.expected {
		if _, ok := l.durations[name]; !ok {
			return false
		}
	}
	return true
}
