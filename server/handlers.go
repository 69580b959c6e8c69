package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/onnwee/fluxbot/overlay"
)

const maxEventBody = 64 << 10

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	client *overlay.Client
	hub    *Hub
	checks []Check
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{client: d.Client, hub: d.Hub, checks: d.Checks}
}

// HandleHealthz responds to liveness probes.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs every readiness check and reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	for _, check := range h.checks {
		if err := check.Fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.Name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Overlay  overlay.Status `json:"overlay"`
	Browsers int            `json:"browsers"`
	Pending  int            `json:"pendingEffects"`
	Recent   []Ack          `json:"recent"`
}

// HandleStatus reports lanes, sequences, the auto player and connected pages.
func (h *Handlers) HandleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, statusResponse{
		Overlay:  h.client.Status(),
		Browsers: h.hub.Clients(),
		Pending:  h.hub.Pending(),
		Recent:   h.hub.Recent(),
	})
}

// HandleSequences lists the catalog sequences.
func (h *Handlers) HandleSequences(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, h.client.Sequences())
}

// HandleEvent injects the JSON body as the payload of the :event overlay event.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	event := httprouter.ParamsFromContext(r.Context()).ByName("event")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if len(body) > maxEventBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	err = h.client.Handle(r.Context(), overlay.Message{Event: event, Data: body})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event": event})
	case errors.Is(err, overlay.ErrUnknownEvent), errors.Is(err, overlay.ErrUnknownSequence):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
