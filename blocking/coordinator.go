// Package blocking serializes overlay display requests over named lanes.
//
// A blocking event names one or more lanes ("Image", "Sound", ...) and an action.
// The action runs only once every named lane is free and the request is at the
// head of each lane's FIFO queue; all lanes are then reserved together. The
// action's owner must Free each lane once its effect completes. A lane that is
// never freed stalls everything queued behind it; there is no timeout.
package blocking

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/fluxbot/telemetry"
)

// Well-known lane names used by the overlay clients. Any string is a valid lane.
const (
	LaneImage = "Image"
	LaneSound = "Sound"
	LaneText  = "Text"
)

// ErrUnknownLaneRelease is logged when Free is called for a lane that is not held.
var ErrUnknownLaneRelease = errors.New("release of lane that is not held")

type request struct {
	id       string
	lanes    []string
	action   func()
	queuedAt time.Time
	held     int
	span     trace.Span
}

type lane struct {
	holder  *request
	heldAt  time.Time
	waiting []*request
}

// Coordinator owns the lane namespace of one overlay client.
// It is safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	pending []*request
	stats   Stats
	now     func() time.Time
	logger  *slog.Logger
}

// Stats are cumulative coordinator counters.
type Stats struct {
	Requests           uint64 `json:"requests"`
	Granted            uint64 `json:"granted"`
	Queued             uint64 `json:"queued"`
	ImbalancedReleases uint64 `json:"imbalanced_releases"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for release warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithNow sets the time source used for wait and hold metrics.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator returns an empty Coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		lanes:  make(map[string]*lane),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PerformOne is Perform for a single lane.
func (c *Coordinator) PerformOne(name string, action func()) {
	c.Perform([]string{name}, action)
}

// Perform runs action once all lanes are reserved for it. When every lane is free
// and has nobody waiting, action runs before Perform returns. Otherwise the whole
// request is queued; no lane is reserved until all of them can be.
// Duplicate names in lanes are collapsed. An empty lane list is ignored.
//
// Actions run on the goroutine of whichever Perform or Free call granted them. A
// panicking action keeps its lanes held and its panic propagates out of that call,
// after the other actions granted in the same call have run.
func (c *Coordinator) Perform(lanes []string, action func()) {
	lanes = dedupe(lanes)
	if len(lanes) == 0 {
		c.logger.Warn("blocking event without lanes ignored", slog.String("component", "blocking"))
		return
	}

	c.mu.Lock()
	req := &request{
		id:       uuid.NewString(),
		lanes:    lanes,
		action:   action,
		queuedAt: c.now(),
	}
	c.stats.Requests++
	for _, name := range lanes {
		l := c.laneLocked(name)
		l.waiting = append(l.waiting, req)
	}
	c.pending = append(c.pending, req)
	granted := c.dispatchLocked()
	if !containsRequest(granted, req) {
		c.stats.Queued++
		for _, name := range lanes {
			telemetry.IncLane(telemetry.LaneQueued, name)
		}
		c.logger.Debug("blocking event queued",
			slog.String("component", "blocking"),
			slog.String("request_id", req.id),
			slog.Any("lanes", lanes))
	}
	telemetry.SetQueueDepth(len(c.pending))
	c.mu.Unlock()

	run(granted)
}

// Free releases lanes held by the current holder of each. Requests that become
// ready are granted in submission order before Free returns. Releasing a lane that
// is not held is logged and ignored.
func (c *Coordinator) Free(lanes ...string) {
	c.mu.Lock()
	now := c.now()
	for _, name := range lanes {
		l, ok := c.lanes[name]
		if !ok || l.holder == nil {
			c.stats.ImbalancedReleases++
			telemetry.IncLane(telemetry.LaneImbalancedRelease, name)
			c.logger.Warn("lane release ignored",
				slog.String("component", "blocking"),
				slog.String("lane", name),
				slog.Any("err", ErrUnknownLaneRelease))
			continue
		}
		telemetry.Observe(telemetry.LaneHoldDuration, now.Sub(l.heldAt))
		holder := l.holder
		l.holder = nil
		c.pruneLocked(name)
		if holder.held--; holder.held == 0 && holder.span != nil {
			holder.span.End()
		}
	}
	granted := c.dispatchLocked()
	telemetry.SetQueueDepth(len(c.pending))
	c.mu.Unlock()

	run(granted)
}

// dispatchLocked grants every pending request whose lanes are all free and which
// heads every one of its lane queues, scanning in submission order.
func (c *Coordinator) dispatchLocked() []*request {
	var granted []*request
	now := c.now()
	remaining := c.pending[:0]
	for _, req := range c.pending {
		if !c.readyLocked(req) {
			remaining = append(remaining, req)
			continue
		}
		for _, name := range req.lanes {
			l := c.lanes[name]
			l.waiting = l.waiting[1:]
			l.holder = req
			l.heldAt = now
			telemetry.IncLane(telemetry.LaneGrants, name)
		}
		req.held = len(req.lanes)
		_, req.span = telemetry.StartSpan(context.Background(), "blocking", "blocking.hold",
			telemetry.LaneAttr(req.lanes), telemetry.RunAttr(req.id))
		telemetry.Observe(telemetry.LaneWaitDuration, now.Sub(req.queuedAt))
		c.stats.Granted++
		granted = append(granted, req)
	}
	for i := len(remaining); i < len(c.pending); i++ {
		c.pending[i] = nil
	}
	c.pending = remaining
	return granted
}

func (c *Coordinator) readyLocked(req *request) bool {
	for _, name := range req.lanes {
		l := c.lanes[name]
		if l.holder != nil || len(l.waiting) == 0 || l.waiting[0] != req {
			return false
		}
	}
	return true
}

func (c *Coordinator) laneLocked(name string) *lane {
	l, ok := c.lanes[name]
	if !ok {
		l = &lane{}
		c.lanes[name] = l
	}
	return l
}

// pruneLocked forgets a lane that is free with nobody waiting.
func (c *Coordinator) pruneLocked(name string) {
	if l, ok := c.lanes[name]; ok && l.holder == nil && len(l.waiting) == 0 {
		delete(c.lanes, name)
	}
}

// Held reports whether lane is currently reserved.
func (c *Coordinator) Held(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[name]
	return ok && l.holder != nil
}

// Pending returns the number of requests waiting for lanes.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns cumulative counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LaneState describes one active lane.
type LaneState struct {
	Name    string `json:"name"`
	Held    bool   `json:"held"`
	Waiting int    `json:"waiting"`
}

// Snapshot lists active lanes sorted by name.
func (c *Coordinator) Snapshot() []LaneState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LaneState, 0, len(c.lanes))
	for name, l := range c.lanes {
		out = append(out, LaneState{Name: name, Held: l.holder != nil, Waiting: len(l.waiting)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// run calls each granted action in order. The rest of the batch still runs when an
// action panics; the panic is re-raised afterwards.
func run(granted []*request) {
	if len(granted) == 0 {
		return
	}
	defer run(granted[1:])
	granted[0].action()
}

func dedupe(lanes []string) []string {
	out := make([]string, 0, len(lanes))
	seen := make(map[string]struct{}, len(lanes))
	for _, name := range lanes {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func containsRequest(list []*request, req *request) bool {
	for _, r := range list {
		if r == req {
			return true
		}
	}
	return false
}
