package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/fluxbot/clock"
	"github.com/onnwee/fluxbot/overlay"
	"github.com/onnwee/fluxbot/telemetry"
)

var (
	// ErrUnknownCommand is returned for a prefixed word that names no command.
	ErrUnknownCommand = errors.New("unknown chat command")
	// ErrDisabled is returned for a command that is switched off.
	ErrDisabled = errors.New("chat command disabled")
	// ErrCooldown is returned while a command is cooling down.
	ErrCooldown = errors.New("chat command on cooldown")
	// ErrNotPermitted is returned when a viewer invokes a moderator command.
	ErrNotPermitted = errors.New("chat command requires moderator")
	// ErrMissingArgument is returned when a command needs an argument and got none.
	ErrMissingArgument = errors.New("chat command needs an argument")
)

// Cooldowns limit how often a command runs. User applies per viewer, Global to everyone.
type Cooldowns struct {
	User   time.Duration
	Global time.Duration
}

// Sender is the viewer who typed a command.
type Sender struct {
	Name string
	Mod  bool
}

// Command maps a chat word to an overlay event.
type Command struct {
	Name    string
	Aliases []string
	Enabled bool
	ModOnly bool
	// Reply is said in chat after the command ran. Empty means silent.
	Reply     string
	Cooldowns Cooldowns
	// Build turns the text after the command word into the overlay message.
	Build func(args string) (overlay.Message, error)
}

// DefaultCommands returns the built-in command set. cooldown is the per-user
// cooldown of the commands that present something.
func DefaultCommands(cooldown time.Duration) []*Command {
	cd := Cooldowns{User: cooldown}
	return []*Command{
		{
			Name: "seq", Aliases: []string{"sequence"}, Enabled: true, Cooldowns: cd,
			Build: payload(overlay.EventPlaySequence, func(a string) any { return overlay.SequenceRequest{Name: a} }),
		},
		{
			Name: "img", Aliases: []string{"image"}, Enabled: true, Cooldowns: cd,
			Build: payload(overlay.EventShowImage, func(a string) any { return overlay.ImageRequest{Image: a} }),
		},
		{
			Name: "say", Aliases: []string{"text"}, Enabled: true, Cooldowns: cd,
			Build: payload(overlay.EventShowText, func(a string) any { return overlay.TextRequest{Text: a} }),
		},
		{
			Name: "sfx", Aliases: []string{"sound"}, Enabled: true, Cooldowns: cd,
			Build: payload(overlay.EventPlaySound, func(a string) any { return overlay.SoundRequest{Sound: a} }),
		},
		{
			Name: "parrot", Enabled: true, ModOnly: true,
			Build: buildParrot,
		},
		{
			Name: "vol", Aliases: []string{"volume"}, Enabled: true, ModOnly: true,
			Build: buildVolume,
		},
	}
}

func payload(event string, req func(args string) any) func(string) (overlay.Message, error) {
	return func(args string) (overlay.Message, error) {
		if args == "" {
			return overlay.Message{}, ErrMissingArgument
		}
		return overlay.NewMessage(event, req(args))
	}
}

func buildParrot(args string) (overlay.Message, error) {
	switch strings.ToLower(args) {
	case "on", "start", "":
		return overlay.Message{Event: overlay.EventPlay}, nil
	case "off", "stop":
		return overlay.Message{Event: overlay.EventStop}, nil
	}
	secs, err := strconv.ParseFloat(args, 64)
	if err != nil || secs < 0 {
		return overlay.Message{}, fmt.Errorf("parrot %q: want on, off or seconds", args)
	}
	return overlay.NewMessage(overlay.EventSetDelay, overlay.SecondsRequest{Seconds: secs})
}

func buildVolume(args string) (overlay.Message, error) {
	if args == "" {
		return overlay.Message{}, ErrMissingArgument
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(args, "%"), 64)
	if err != nil {
		return overlay.Message{}, fmt.Errorf("volume %q: %w", args, err)
	}
	if strings.HasSuffix(args, "%") || v > 1 {
		v /= 100
	}
	return overlay.NewMessage(overlay.EventVolume, overlay.VolumeRequest{Volume: v})
}

// Parse splits "!cmd some args" into its lower-cased command word and the
// trimmed rest. ok is false when text does not start with prefix.
func Parse(text, prefix string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	rest, found := strings.CutPrefix(text, prefix)
	if !found || rest == "" || strings.HasPrefix(rest, " ") {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// Router resolves chat lines to commands, enforces cooldowns and hands the
// resulting messages to an overlay handler.
type Router struct {
	prefix string
	handle func(context.Context, overlay.Message) error
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	commands map[string]*Command
	global   map[string]time.Time
	users    map[string]map[string]time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterClock sets the clock used for cooldowns.
func WithRouterClock(c clock.Clock) RouterOption {
	return func(r *Router) { r.clock = c }
}

// WithRouterLogger sets the router logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter routes prefixed chat lines among cmds to handle.
// A later command wins a name or alias collision.
func NewRouter(prefix string, cmds []*Command, handle func(context.Context, overlay.Message) error, opts ...RouterOption) *Router {
	if prefix == "" {
		prefix = "!"
	}
	r := &Router{
		prefix:   prefix,
		handle:   handle,
		logger:   slog.Default(),
		commands: make(map[string]*Command),
		global:   make(map[string]time.Time),
		users:    make(map[string]map[string]time.Time),
	}
	for _, o := range opts {
		o(r)
	}
	r.clock = clock.Or(r.clock)
	r.logger = r.logger.With(slog.String("component", "chat"))
	for _, c := range cmds {
		r.register(c)
	}
	return r
}

func (r *Router) register(c *Command) {
	r.commands[strings.ToLower(c.Name)] = c
	for _, a := range c.Aliases {
		r.commands[strings.ToLower(a)] = c
	}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// SetEnabled switches a command on or off by name or alias.
func (r *Router) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commands[strings.ToLower(name)]
	if ok {
		c.Enabled = enabled
	}
	return ok
}

// Names returns the primary command names, sorted.
func (r *Router) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.commands {
		if !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Route runs the command in text on behalf of from. handled is false when text
// is ordinary chat. The returned command is the one that matched, if any.
func (r *Router) Route(ctx context.Context, from Sender, text string) (cmd *Command, handled bool, err error) {
	name, args, ok := Parse(text, r.prefix)
	if !ok {
		return nil, false, nil
	}
	defer func() {
		key, result := name, "ok"
		if cmd != nil {
			key = cmd.Name
		}
		switch {
		case errors.Is(err, ErrUnknownCommand):
			key, result = "unknown", "unknown"
		case errors.Is(err, ErrCooldown):
			result = "cooldown"
		case errors.Is(err, ErrDisabled), errors.Is(err, ErrNotPermitted):
			result = "rejected"
		case err != nil:
			result = "error"
		}
		telemetry.IncResult(telemetry.ChatCommands, key, result)
	}()

	r.mu.Lock()
	cmd, ok = r.commands[name]
	if !ok {
		r.mu.Unlock()
		return nil, true, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
	}
	if err := r.admitLocked(cmd, from); err != nil {
		r.mu.Unlock()
		return cmd, true, err
	}
	r.mu.Unlock()

	msg, err := cmd.Build(args)
	if err != nil {
		return cmd, true, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if err := r.handle(ctx, msg); err != nil {
		return cmd, true, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	r.mu.Lock()
	r.applyLocked(cmd, from)
	r.mu.Unlock()
	r.logger.Debug("chat command",
		slog.String("command", cmd.Name),
		slog.String("user", from.Name),
		slog.String("event", msg.Event))
	return cmd, true, nil
}

func (r *Router) admitLocked(cmd *Command, from Sender) error {
	if !cmd.Enabled {
		return fmt.Errorf("%s: %w", cmd.Name, ErrDisabled)
	}
	if cmd.ModOnly && !from.Mod {
		return fmt.Errorf("%s: %w", cmd.Name, ErrNotPermitted)
	}
	if from.Mod {
		return nil
	}
	now := r.clock.Now()
	if until, ok := r.global[cmd.Name]; ok && now.Before(until) {
		return fmt.Errorf("%s: %w", cmd.Name, ErrCooldown)
	}
	if until, ok := r.users[cmd.Name][from.Name]; ok && now.Before(until) {
		return fmt.Errorf("%s: %w", cmd.Name, ErrCooldown)
	}
	return nil
}

// applyLocked starts the cooldowns of a command that ran.
func (r *Router) applyLocked(cmd *Command, from Sender) {
	now := r.clock.Now()
	if cmd.Cooldowns.Global > 0 {
		r.global[cmd.Name] = now.Add(cmd.Cooldowns.Global)
	}
	if cmd.Cooldowns.User > 0 {
		users, ok := r.users[cmd.Name]
		if !ok {
			users = make(map[string]time.Time)
			r.users[cmd.Name] = users
		}
		users[from.Name] = now.Add(cmd.Cooldowns.User)
	}
}

// Prune forgets cooldowns that have expired.
func (r *Router) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for name, until := range r.global {
		if !now.Before(until) {
			delete(r.global, name)
		}
	}
	for name, users := range r.users {
		for user, until := range users {
			if !now.Before(until) {
				delete(users, user)
			}
		}
		if len(users) == 0 {
			delete(r.users, name)
		}
	}
}

// ResetCooldowns clears every cooldown of the named command.
func (r *Router) ResetCooldowns(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.commands[strings.ToLower(name)]; ok {
		delete(r.global, c.Name)
		delete(r.users, c.Name)
	}
}
