package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/fluxbot/blocking"
	"github.com/onnwee/fluxbot/overlay"
)

type pageMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	DurationMs int64   `json:"durationMs"`
	Volume     float64 `json:"volume"`
}

func startOverlayServer(t *testing.T) (Deps, *httptest.Server) {
	t.Helper()
	d := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewRouter(ctx, d))
	t.Cleanup(srv.Close)
	return d, srv
}

func dialOverlay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/overlay/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The hub greets every page with the current volume.
	hello := readPage(t, conn)
	if hello.Type != "volume" || hello.Volume != 1 {
		t.Fatalf("greeting = %+v", hello)
	}
	return conn
}

func readPage(t *testing.T, conn *websocket.Conn) pageMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg pageMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func postEvent(t *testing.T, srv *httptest.Server, event, body string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/overlay/events/"+event, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", event, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post %s: status %d", event, resp.StatusCode)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubCompletionFreesLane(t *testing.T) {
	d, srv := startOverlayServer(t)
	conn := dialOverlay(t, srv)

	postEvent(t, srv, overlay.EventShowImage, `{"image":"cat.png","durationMs":1500}`)
	effect := readPage(t, conn)
	if effect.Type != string(overlay.EffectImage) || effect.Name != "cat.png" || effect.DurationMs != 1500 {
		t.Fatalf("effect = %+v", effect)
	}
	if d.Hub.Pending() != 1 || !d.Client.Coordinator().Held(blocking.LaneImage) {
		t.Fatalf("expected image lane held while the page shows it")
	}

	if err := conn.WriteJSON(map[string]string{"type": "complete", "id": effect.ID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "image lane to be freed", func() bool {
		return !d.Client.Coordinator().Held(blocking.LaneImage)
	})
	waitFor(t, "imgdispDone ack", func() bool {
		return strings.Contains(ackNames(d.Hub.Recent()), overlay.AckImage)
	})
}

func TestHubDisconnectCompletesPending(t *testing.T) {
	d, srv := startOverlayServer(t)
	conn := dialOverlay(t, srv)

	postEvent(t, srv, overlay.EventShowText, `{"text":"hello chat"}`)
	if effect := readPage(t, conn); effect.Type != string(overlay.EffectText) {
		t.Fatalf("effect = %+v", effect)
	}
	if d.Hub.Pending() != 1 {
		t.Fatalf("pending = %d", d.Hub.Pending())
	}

	_ = conn.Close()
	waitFor(t, "page to disconnect", func() bool { return d.Hub.Clients() == 0 })
	waitFor(t, "pending effects to complete", func() bool {
		return d.Hub.Pending() == 0 && len(d.Client.Coordinator().Snapshot()) == 0
	})
}

func TestHubForwardsSoundLoaded(t *testing.T) {
	d, srv := startOverlayServer(t)
	conn := dialOverlay(t, srv)

	msg := map[string]any{"type": overlay.EventSoundLoaded, "name": "squawk", "durationMs": 1500}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "sound duration update", func() bool {
		return d.Client.Sounds().Duration("squawk") == 1500*time.Millisecond
	})
}

func TestHubBroadcastsVolume(t *testing.T) {
	_, srv := startOverlayServer(t)
	conn := dialOverlay(t, srv)

	postEvent(t, srv, overlay.EventVolume, `{"volume":0.25}`)
	if msg := readPage(t, conn); msg.Type != "volume" || msg.Volume != 0.25 {
		t.Fatalf("volume message = %+v", msg)
	}
}

func TestHubWithoutPagesCompletesImmediately(t *testing.T) {
	h := NewHub(nil)
	res := h.Present(overlay.Effect{Type: overlay.EffectSound, Name: "squawk"})
	fired := false
	res.OnComplete(func() { fired = true })
	if !fired {
		t.Fatal("effect without pages should complete at once")
	}
	if h.Pending() != 0 {
		t.Fatalf("pending = %d", h.Pending())
	}
}

func TestHubCompleteUnknownID(t *testing.T) {
	h := NewHub(nil)
	h.complete("nope")
	if h.Pending() != 0 {
		t.Fatalf("pending = %d", h.Pending())
	}
}

func TestHubRecentKeepsLatestAcks(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < recentAcks+8; i++ {
		h.Emit(fmt.Sprintf("ack-%d", i), nil)
	}
	recent := h.Recent()
	if len(recent) != recentAcks {
		t.Fatalf("len = %d, want %d", len(recent), recentAcks)
	}
	if recent[0].Event != "ack-8" || recent[len(recent)-1].Event != fmt.Sprintf("ack-%d", recentAcks+7) {
		t.Fatalf("window = %s..%s", recent[0].Event, recent[len(recent)-1].Event)
	}
}
