package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return New(slog.Default(), Config{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func runHub(t *testing.T, h *Hub) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for hub to stop")
		}
	}
}

// fakeClient has no websocket connection; the hub guards against nil conns.
func fakeClient(h *Hub, name string, buf int) *Client {
	return &Client{
		hub:        h,
		send:       make(chan []byte, buf),
		id:         name,
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerAndWait(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, ok := h.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	h := newTestHub(t, 4, 8)
	stop := runHub(t, h)
	defer stop()

	c1 := fakeClient(h, "c1", 4)
	c2 := fakeClient(h, "c2", 4)
	registerAndWait(t, h, c1)
	registerAndWait(t, h, c2)

	msg := []byte(`{"type":"pose","data":{"fov":60}}`)

	// Avoid BroadcastBytes() here because it is non-blocking and may drop if
	// the hub queue is temporarily full during scheduling.
	h.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	h := newTestHub(t, 1, 8)
	stop := runHub(t, h)
	defer stop()

	slow := fakeClient(h, "slow", 1)
	fast := fakeClient(h, "fast", 8)
	registerAndWait(t, h, slow)
	registerAndWait(t, h, fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"button","data":{"index":0}}`)
	h.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := h.Len(); n != 1 {
		t.Errorf("expected 1 client left, got %d", n)
	}
}

func TestEncode_Envelope(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := Encode("bulb", at, map[string]any{"mesh": "Lamp", "on": true})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "bulb" {
		t.Errorf("expected type bulb, got %q", env.Type)
	}
	if env.Ts == nil || !env.Ts.Equal(at) {
		t.Errorf("expected ts %v, got %v", at, env.Ts)
	}
	if !strings.Contains(string(env.Data), `"mesh":"Lamp"`) {
		t.Errorf("expected data to carry mesh, got %s", env.Data)
	}

	msg, err = Encode("ping", time.Time{}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(msg), `"data"`) {
		t.Errorf("expected data omitted, got %s", msg)
	}
}

func TestHandler_InitialFrameAndBroadcast(t *testing.T) {
	h := newTestHub(t, 8, 8)
	stop := runHub(t, h)
	defer stop()

	ids := make(chan string, 1)
	srv := httptest.NewServer(h.Handler(HandlerOptions{
		OnConnect: func(_ *http.Request, c *Client) {
			ids <- c.ID()
			first, _ := Encode("init", time.Time{}, map[string]int{"n": 1})
			c.Enqueue(first)
		},
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readType := func() string {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env.Type
	}

	if got := readType(); got != "init" {
		t.Fatalf("expected init frame first, got %q", got)
	}
	if id := <-ids; len(id) != 36 {
		t.Errorf("expected uuid session id, got %q", id)
	}

	waitUntil(t, 500*time.Millisecond, func() bool { return h.Len() == 1 }, "client not registered")
	if err := h.Broadcast("pose", time.Time{}, map[string]float64{"fov": 60}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := readType(); got != "pose" {
		t.Errorf("expected pose frame, got %q", got)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
