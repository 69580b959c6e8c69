package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/onnwee/fluxbot/overlay"
	"github.com/onnwee/fluxbot/telemetry"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	readLimit    = 4096
	recentAcks   = 32
)

// browserMessage is sent by an overlay page.
type browserMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type volumeMessage struct {
	Type   string  `json:"type"`
	Volume float64 `json:"volume"`
}

// Ack is an acknowledgement recorded for the status page.
type Ack struct {
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
	At    time.Time `json:"at"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// Hub fans effects out to every connected overlay page and collects their
// completion reports. It implements overlay.Stage and overlay.Emitter.
//
// With no page connected an effect completes at once so lanes never wait on an
// absent overlay. When the last page disconnects every pending effect completes.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
	pending map[string]*overlay.Completion
	volume  float64
	inbound func(context.Context, overlay.Message) error
	acks    []Ack
}

// NewHub returns a hub with no connected pages.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With(slog.String("component", "hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
		pending: make(map[string]*overlay.Completion),
		volume:  1,
	}
}

// SetInbound sets the handler for messages the pages send besides completions.
func (h *Hub) SetInbound(fn func(context.Context, overlay.Message) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbound = fn
}

// Present broadcasts e and returns its completion.
func (h *Hub) Present(e overlay.Effect) overlay.Resource {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return overlay.Completed()
	}
	var res overlay.Resource = overlay.Completed()
	if e.AwaitsCompletion() {
		c := overlay.NewCompletion()
		h.pending[e.ID] = c
		res = c
	}
	orphaned := h.broadcastLocked(e)
	h.mu.Unlock()

	completeAll(orphaned)
	return res
}

// SetVolume broadcasts the effects volume and remembers it for new pages.
func (h *Hub) SetVolume(v float64) {
	h.mu.Lock()
	h.volume = v
	orphaned := h.broadcastLocked(volumeMessage{Type: "volume", Volume: v})
	h.mu.Unlock()
	completeAll(orphaned)
}

// Emit records an acknowledgement from the overlay client.
func (h *Hub) Emit(event string, data any) {
	h.mu.Lock()
	h.acks = append(h.acks, Ack{Event: event, Data: data, At: time.Now()})
	if len(h.acks) > recentAcks {
		h.acks = h.acks[len(h.acks)-recentAcks:]
	}
	h.mu.Unlock()
	h.logger.Debug("overlay ack", slog.String("event", event))
}

// Recent returns the latest acknowledgements, oldest first.
func (h *Hub) Recent() []Ack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Ack(nil), h.acks...)
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Pending returns the number of effects waiting for a completion report.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// broadcastLocked queues msg for every page. Pages whose buffer is full are
// dropped; if that leaves none, the pending completions are returned.
func (h *Hub) broadcastLocked(msg any) []*overlay.Completion {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("overlay page too slow, dropping", slog.String("client_id", c.id))
			delete(h.clients, c)
			close(c.send)
		}
	}
	telemetry.SetOverlayClients(len(h.clients))
	if len(h.clients) == 0 {
		return h.drainLocked()
	}
	return nil
}

func (h *Hub) drainLocked() []*overlay.Completion {
	out := make([]*overlay.Completion, 0, len(h.pending))
	for id, c := range h.pending {
		out = append(out, c)
		delete(h.pending, id)
	}
	return out
}

func completeAll(cs []*overlay.Completion) {
	for _, c := range cs {
		c.Complete()
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	c.send <- volumeMessage{Type: "volume", Volume: h.volume}
	h.mu.Unlock()
	telemetry.SetOverlayClients(n)
	h.logger.Info("overlay page connected", slog.String("client_id", c.id), slog.Int("clients", n))
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	var orphaned []*overlay.Completion
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		if len(h.clients) == 0 {
			orphaned = h.drainLocked()
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	telemetry.SetOverlayClients(n)
	h.logger.Info("overlay page disconnected", slog.String("client_id", c.id), slog.Int("clients", n))
	completeAll(orphaned)
}

func (h *Hub) complete(id string) {
	h.mu.Lock()
	c, ok := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("completion for unknown effect", slog.String("effect_id", id))
		return
	}
	c.Complete()
}

// ServeWS upgrades the request and pumps messages until the page goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan any, sendBuffer),
	}
	h.register(c)

	go c.writePump()
	h.readPump(context.WithoutCancel(r.Context()), c)
}

func (h *Hub) readPump(ctx context.Context, c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)

	for {
		var msg browserMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "complete":
			h.complete(msg.ID)
		case overlay.EventSoundLoaded:
			h.forward(ctx, overlay.EventSoundLoaded, overlay.SoundLoaded{Name: msg.Name, DurationMs: msg.DurationMs})
		default:
			h.logger.Debug("unknown page message", slog.String("type", msg.Type))
		}
	}
}

func (h *Hub) forward(ctx context.Context, event string, data any) {
	h.mu.Lock()
	fn := h.inbound
	h.mu.Unlock()
	if fn == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encode page message", slog.Any("err", err))
		return
	}
	if err := fn(ctx, overlay.Message{Event: event, Data: raw}); err != nil {
		h.logger.Warn("page message rejected", slog.String("event", event), slog.Any("err", err))
	}
}

func (c *wsClient) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
