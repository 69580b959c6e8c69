// Package overlay turns inbound overlay events into lane-guarded effects on a Stage.
//
// A Client owns one blocking.Coordinator. Image, sound and text requests reserve
// the lanes they draw on and free each lane when the browser reports the effect
// finished. Catalog sequences reserve every lane they touch for the whole run.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/fluxbot/blocking"
	"github.com/onnwee/fluxbot/catalog"
	"github.com/onnwee/fluxbot/clock"
	"github.com/onnwee/fluxbot/sequence"
	"github.com/onnwee/fluxbot/telemetry"
)

// Config holds presentation defaults.
type Config struct {
	BaseImage       string
	ImageDuration   time.Duration
	Fade            time.Duration
	ParrotBaseDelay time.Duration
	ParrotVariance  time.Duration
}

// DefaultConfig returns the defaults used when a field is zero.
func DefaultConfig() Config {
	return Config{
		ImageDuration:   5 * time.Second,
		Fade:            250 * time.Millisecond,
		ParrotBaseDelay: 5 * time.Minute,
	}
}

// Client handles overlay events for one overlay.
type Client struct {
	stage  Stage
	emit   Emitter
	coord  *blocking.Coordinator
	sounds *SoundLibrary
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config

	seqs   map[string]*sequence.Sequence
	auto   map[string]bool
	parrot *sequence.Player

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	baseDelay time.Duration
	variance  time.Duration
	volume    float64
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used by sequences and the auto player.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithEmitter sets the receiver of acknowledgements.
func WithEmitter(e Emitter) Option {
	return func(cl *Client) { cl.emit = e }
}

// WithCoordinator replaces the client's lane coordinator.
func WithCoordinator(c *blocking.Coordinator) Option {
	return func(cl *Client) { cl.coord = c }
}

// NewClient binds the catalog's sequences to stage. cat may be nil.
func NewClient(stage Stage, cat *catalog.Catalog, cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.ImageDuration <= 0 {
		cfg.ImageDuration = def.ImageDuration
	}
	if cfg.Fade <= 0 {
		cfg.Fade = def.Fade
	}
	if cfg.ParrotBaseDelay <= 0 {
		cfg.ParrotBaseDelay = def.ParrotBaseDelay
	}
	if cat == nil {
		cat = &catalog.Catalog{}
	}
	if cfg.BaseImage == "" {
		cfg.BaseImage = cat.BaseImage
	}

	c := &Client{
		stage:     stage,
		emit:      EmitterFunc(func(string, any) {}),
		logger:    slog.Default(),
		cfg:       cfg,
		auto:      make(map[string]bool),
		baseDelay: cfg.ParrotBaseDelay,
		variance:  cfg.ParrotVariance,
		volume:    1,
	}
	for _, o := range opts {
		o(c)
	}
	c.clock = clock.Or(c.clock)
	c.logger = c.logger.With(slog.String("component", "overlay"))
	if c.coord == nil {
		c.coord = blocking.NewCoordinator(blocking.WithLogger(c.logger), blocking.WithNow(c.clock.Now))
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.sounds = NewSoundLibrary(cat.SoundNames())
	c.sounds.SetAll(cat.DeclaredDurations())

	seqs, err := cat.Build(sequenceStage{c}, sequence.WithClock(c.clock), sequence.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("bind catalog: %w", err)
	}
	c.seqs = seqs

	autoSeqs := make(map[string]*sequence.Sequence)
	for _, name := range cat.AutoPlayNames() {
		c.auto[name] = true
		autoSeqs[name] = seqs[name]
	}
	minDelay, maxDelay := delayRange(c.baseDelay, c.variance)
	c.parrot = sequence.NewRandomPlayer(autoSeqs, minDelay, maxDelay,
		sequence.WithPlayerClock(c.clock),
		sequence.WithPlayerLogger(c.logger),
		sequence.WithLauncher(c.playSequence))

	c.sounds.OnReady(c.recalculate)
	return c, nil
}

// Close stops the auto player and cancels every running sequence.
func (c *Client) Close() {
	c.parrot.Stop()
	c.cancel()
}

// Coordinator returns the client's lane coordinator.
func (c *Client) Coordinator() *blocking.Coordinator { return c.coord }

// Sounds returns the client's sound library.
func (c *Client) Sounds() *SoundLibrary { return c.sounds }

// Handle dispatches one inbound message. Errors are returned only for unknown
// events, unknown sequences and undecodable payloads.
func (c *Client) Handle(ctx context.Context, msg Message) error {
	err := c.dispatch(msg)
	key, result := msg.Event, "ok"
	switch {
	case errors.Is(err, ErrUnknownEvent):
		key, result = "unknown", "unknown_event"
	case errors.Is(err, ErrUnknownSequence):
		result = "unknown_sequence"
	case err != nil:
		result = "invalid"
	}
	telemetry.IncResult(telemetry.OverlayMessages, key, result)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("overlay event rejected",
			slog.String("component", "overlay"),
			slog.String("event", msg.Event),
			slog.Any("err", err))
	}
	return err
}

func (c *Client) dispatch(msg Message) error {
	switch msg.Event {
	case EventShowImage:
		var req ImageRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		c.ShowImage(req)
	case EventShowText:
		var req TextRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		c.ShowText(req)
	case EventPlaySound:
		var req SoundRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		c.PlaySound(req.Sound)
	case EventPlaySequence:
		var req SequenceRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		return c.PlaySequence(req.Name)
	case EventPlay:
		c.parrot.Play()
	case EventStop:
		c.parrot.Stop()
	case EventSetDelay:
		var req SecondsRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		c.SetParrotDelay(seconds(req.Seconds))
	case EventSetVariance:
		var req SecondsRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		c.SetParrotVariance(seconds(req.Seconds))
	case EventVolume:
		var req VolumeRequest
		if err := decode(msg, &req); err != nil {
			return err
		}
		c.SetVolume(req.Volume)
	case EventSoundLoaded:
		var req SoundLoaded
		if err := decode(msg, &req); err != nil {
			return err
		}
		if req.Name == "" || req.DurationMs < 0 {
			return fmt.Errorf("%s: %w", msg.Event, ErrInvalidPayload)
		}
		c.sounds.Set(req.Name, time.Duration(req.DurationMs)*time.Millisecond)
	default:
		return fmt.Errorf("%q: %w", msg.Event, ErrUnknownEvent)
	}
	return nil
}

// ShowImage displays an image and/or plays a sound. Each lane is freed when its
// own effect completes. A request naming neither is ignored.
func (c *Client) ShowImage(req ImageRequest) {
	var lanes []string
	if req.Image != "" {
		lanes = append(lanes, blocking.LaneImage)
	}
	if req.Sound != "" {
		lanes = append(lanes, blocking.LaneSound)
	}
	if len(lanes) == 0 {
		c.logger.Debug("empty image request ignored")
		return
	}
	show := c.cfg.ImageDuration
	if req.DurationMs > 0 {
		show = time.Duration(req.DurationMs) * time.Millisecond
	}

	c.coord.Perform(lanes, func() {
		if req.Image != "" {
			res := c.stage.Present(Effect{
				ID:         uuid.NewString(),
				Type:       EffectImage,
				Name:       req.Image,
				DurationMs: durationMs(show),
				FadeMs:     durationMs(c.cfg.Fade),
			})
			res.OnComplete(func() {
				c.coord.Free(blocking.LaneImage)
				c.emit.Emit(AckImage, ImageDone{Image: req.Image})
			})
		}
		if req.Sound != "" {
			res := c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectSound, Name: req.Sound})
			res.OnComplete(func() { c.coord.Free(blocking.LaneSound) })
		}
	})
}

// ShowText shows a caption on the Text lane.
func (c *Client) ShowText(req TextRequest) {
	show := c.cfg.ImageDuration
	if req.DurationMs > 0 {
		show = time.Duration(req.DurationMs) * time.Millisecond
	}
	c.coord.PerformOne(blocking.LaneText, func() {
		res := c.stage.Present(Effect{
			ID:         uuid.NewString(),
			Type:       EffectText,
			Text:       req.Text,
			DurationMs: durationMs(show),
			FadeMs:     durationMs(c.cfg.Fade),
		})
		res.OnComplete(func() {
			c.coord.Free(blocking.LaneText)
			c.emit.Emit(AckText, TextDone{Text: req.Text})
		})
	})
}

// PlaySound plays a sound on the Sound lane. An empty name is ignored.
func (c *Client) PlaySound(name string) {
	if name == "" {
		c.logger.Debug("empty sound request ignored")
		return
	}
	c.coord.PerformOne(blocking.LaneSound, func() {
		res := c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectSound, Name: name})
		res.OnComplete(func() {
			c.coord.Free(blocking.LaneSound)
			c.emit.Emit(AckSound, SoundDone{Sound: name})
		})
	})
}

// PlaySequence runs a catalog sequence once its lanes are free.
func (c *Client) PlaySequence(name string) error {
	seq, ok := c.seqs[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownSequence)
	}
	c.playSequence(name, seq)
	return nil
}

// playSequence queues a run on the sequence's lanes. The returned channel is
// closed once the run has ended, so a run still waiting for lanes counts as active.
func (c *Client) playSequence(name string, seq *sequence.Sequence) <-chan struct{} {
	if seq.Empty() {
		c.emit.Emit(AckSequence, SequenceDone{Name: name})
		return nil
	}
	done := make(chan struct{})
	lanes := lanesFor(seq.Kinds())
	start := func() {
		seq.PlayContext(c.ctx, sequence.WhenDone(func(p *sequence.Playback) {
			c.resetStage(lanes)
			if len(lanes) > 0 {
				c.coord.Free(lanes...)
			}
			c.emit.Emit(AckSequence, SequenceDone{Name: name, Cancelled: p.State() == sequence.Cancelled})
			close(done)
		}))
	}
	if len(lanes) == 0 {
		start()
		return done
	}
	c.coord.Perform(lanes, start)
	return done
}

// resetStage puts back the base image and hides captions on the lanes a sequence used.
func (c *Client) resetStage(lanes []string) {
	for _, l := range lanes {
		switch l {
		case blocking.LaneImage:
			if c.cfg.BaseImage != "" {
				c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectImage, Name: c.cfg.BaseImage})
			}
		case blocking.LaneText:
			c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectClearText})
		}
	}
}

// lanesFor maps action kinds to lanes in Image, Sound, Text order.
func lanesFor(kinds []sequence.Kind) []string {
	var image, sound, text bool
	for _, k := range kinds {
		switch k {
		case sequence.KindImage:
			image = true
		case sequence.KindSound:
			sound = true
		case sequence.KindText, sequence.KindClearText:
			text = true
		}
	}
	var lanes []string
	if image {
		lanes = append(lanes, blocking.LaneImage)
	}
	if sound {
		lanes = append(lanes, blocking.LaneSound)
	}
	if text {
		lanes = append(lanes, blocking.LaneText)
	}
	return lanes
}

// SetParrotDelay sets the base pause of the auto player.
func (c *Client) SetParrotDelay(d time.Duration) {
	c.mu.Lock()
	c.baseDelay = d
	minDelay, maxDelay := delayRange(c.baseDelay, c.variance)
	c.mu.Unlock()
	c.parrot.SetDelay(minDelay, maxDelay)
}

// SetParrotVariance sets how far the auto player's pause may stray from the base.
func (c *Client) SetParrotVariance(d time.Duration) {
	c.mu.Lock()
	c.variance = d
	minDelay, maxDelay := delayRange(c.baseDelay, c.variance)
	c.mu.Unlock()
	c.parrot.SetDelay(minDelay, maxDelay)
}

// StartParrot starts the auto player.
func (c *Client) StartParrot() { c.parrot.Play() }

// SetVolume clamps v to [0, 1] and forwards it to the stage.
func (c *Client) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
	c.stage.SetVolume(v)
}

func (c *Client) recalculate() {
	for name, seq := range c.seqs {
		d := seq.CalculateDuration()
		c.logger.Debug("sequence duration calculated",
			slog.String("sequence", name),
			slog.Duration("duration", d))
	}
}

// SequenceInfo describes a catalog sequence.
type SequenceInfo struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
	Events     int    `json:"events"`
	AutoPlay   bool   `json:"autoPlay"`
}

// Sequences lists the catalog sequences sorted by name.
func (c *Client) Sequences() []SequenceInfo {
	out := make([]SequenceInfo, 0, len(c.seqs))
	for name, seq := range c.seqs {
		out = append(out, SequenceInfo{
			Name:       name,
			DurationMs: durationMs(seq.Duration()),
			Events:     seq.Len(),
			AutoPlay:   c.auto[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParrotStatus describes the auto player.
type ParrotStatus struct {
	Playing    bool   `json:"playing"`
	MinDelayMs int64  `json:"minDelayMs"`
	MaxDelayMs int64  `json:"maxDelayMs"`
	Launches   uint64 `json:"launches"`
}

// Status is a point-in-time view of the client.
type Status struct {
	Lanes         []blocking.LaneState `json:"lanes"`
	Stats         blocking.Stats       `json:"stats"`
	Sequences     []SequenceInfo       `json:"sequences"`
	Parrot        ParrotStatus         `json:"parrot"`
	SoundsMissing []string             `json:"soundsMissing"`
	Volume        float64              `json:"volume"`
}

// Status reports lanes, counters, sequences and the auto player.
func (c *Client) Status() Status {
	minDelay, maxDelay := c.parrot.Delay()
	c.mu.Lock()
	volume := c.volume
	c.mu.Unlock()
	return Status{
		Lanes:     c.coord.Snapshot(),
		Stats:     c.coord.Stats(),
		Sequences: c.Sequences(),
		Parrot: ParrotStatus{
			Playing:    c.parrot.Playing(),
			MinDelayMs: durationMs(minDelay),
			MaxDelayMs: durationMs(maxDelay),
			Launches:   c.parrot.Launches(),
		},
		SoundsMissing: c.sounds.Missing(),
		Volume:        volume,
	}
}

func delayRange(base, variance time.Duration) (time.Duration, time.Duration) {
	if variance < 0 {
		variance = -variance
	}
	minDelay := base - variance
	if minDelay < 0 {
		minDelay = 0
	}
	return minDelay, base + variance
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sequenceStage renders sequence actions as untracked effects.
type sequenceStage struct{ c *Client }

func (s sequenceStage) ShowImage(name string) {
	s.c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectImage, Name: name})
}

func (s sequenceStage) PlaySound(name string) {
	s.c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectSound, Name: name})
}

func (s sequenceStage) ShowText(text string) {
	s.c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectText, Text: text})
}

func (s sequenceStage) ClearText() {
	s.c.stage.Present(Effect{ID: uuid.NewString(), Type: EffectClearText})
}

func (s sequenceStage) SoundDuration(name string) time.Duration {
	return s.c.sounds.Duration(name)
}
