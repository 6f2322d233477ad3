package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"navcam"
	"navcam/hub"
	"navcam/rooms"
)

type wsFrame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// stateFixture runs a hub, broadcaster and state handler behind an httptest
// server. Snapshot requests are answered from snap; other events land in
// received.
type stateFixture struct {
	hub        *hub.Hub
	broadcasts chan StateBroadcast
	received   chan Event
	url        string
}

func newStateFixture(t *testing.T, snap StateSnapshot) *stateFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.New(testLogger(), hub.Config{})
	go h.Run(ctx)

	events := make(chan Event, 16)
	received := make(chan Event, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- snap
					continue
				}
				received <- ev
			}
		}
	}()

	broadcasts := make(chan StateBroadcast, 16)
	go RunBroadcaster(ctx, h, broadcasts, testLogger())

	srv := httptest.NewServer(newStateServer(h, events, testLogger()).Handler())
	t.Cleanup(srv.Close)

	return &stateFixture{
		hub:        h,
		broadcasts: broadcasts,
		received:   received,
		url:        "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *stateFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func TestStateWS_InitFrame(t *testing.T) {
	snap := StateSnapshot{
		Pose:      navcam.Pose{Position: mgl64.Vec3{1, 2, 3}, FOV: 60},
		Connected: true,
		DeviceID:  "SpaceNavigator",
		Lights:    map[string]bool{"lamp": true},
		Cursor:    rooms.CursorDefault,
		Meshes:    []string{"lamp"},
	}
	f := newStateFixture(t, snap)
	conn := f.dial(t)

	first := readFrame(t, conn)
	if first.Type != "state_init" {
		t.Fatalf("expected state_init, got %q", first.Type)
	}
	if first.Ts == nil {
		t.Errorf("expected ts on state_init")
	}

	var got StateSnapshot
	if err := json.Unmarshal(first.Data, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.Pose.Position != snap.Pose.Position {
		t.Errorf("expected position %v, got %v", snap.Pose.Position, got.Pose.Position)
	}
	if !got.Connected || got.DeviceID != "SpaceNavigator" {
		t.Errorf("expected connected SpaceNavigator, got %+v", got)
	}
	if !got.Lights["lamp"] {
		t.Errorf("expected lamp on, got %v", got.Lights)
	}
}

func TestStateWS_PoseCoalescedBeforeImmediateFrames(t *testing.T) {
	f := newStateFixture(t, StateSnapshot{})
	conn := f.dial(t)
	readFrame(t, conn) // state_init

	waitUntil(t, 2*time.Second, func() bool { return f.hub.Len() == 1 })

	for i := 1; i <= 5; i++ {
		f.broadcasts <- BroadcastPose{Pose: navcam.Pose{Position: mgl64.Vec3{float64(i), 0, 0}, FOV: 60}}
	}
	f.broadcasts <- BroadcastButton{Event: navcam.ButtonEvent{Type: navcam.EventButtonDown, Index: 0, Pressed: true, Value: 1}}

	pose := readFrame(t, conn)
	if pose.Type != "pose" {
		t.Fatalf("expected pose frame first, got %q", pose.Type)
	}
	var p navcam.Pose
	if err := json.Unmarshal(pose.Data, &p); err != nil {
		t.Fatalf("unmarshal pose: %v", err)
	}
	if p.Position.X() != 5 {
		t.Errorf("expected latest pose x=5, got %v", p.Position.X())
	}

	button := readFrame(t, conn)
	if button.Type != "button" {
		t.Fatalf("expected button frame, got %q", button.Type)
	}
	var b wsButtonData
	if err := json.Unmarshal(button.Data, &b); err != nil {
		t.Fatalf("unmarshal button: %v", err)
	}
	if b.Type != navcam.EventButtonDown || !b.Pressed {
		t.Errorf("expected pressed buttondown, got %+v", b)
	}
}

func TestStateWS_PoseFlushedByTimer(t *testing.T) {
	f := newStateFixture(t, StateSnapshot{})
	conn := f.dial(t)
	readFrame(t, conn)
	waitUntil(t, 2*time.Second, func() bool { return f.hub.Len() == 1 })

	f.broadcasts <- BroadcastPose{Pose: navcam.Pose{FOV: 42}}

	frame := readFrame(t, conn)
	if frame.Type != "pose" {
		t.Fatalf("expected pose frame, got %q", frame.Type)
	}
	var p navcam.Pose
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		t.Fatalf("unmarshal pose: %v", err)
	}
	if p.FOV != 42 {
		t.Errorf("expected fov 42, got %v", p.FOV)
	}
}

func TestStateWS_ClientEventsForwarded(t *testing.T) {
	f := newStateFixture(t, StateSnapshot{})
	conn := f.dial(t)
	readFrame(t, conn)

	msg, err := MarshalEvent(MeshMouseDown{Mesh: "lamp"})
	if err != nil {
		t.Fatalf("MarshalEvent failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case ev := <-f.received:
		down, ok := ev.(MeshMouseDown)
		if !ok {
			t.Fatalf("expected MeshMouseDown, got %T", ev)
		}
		if down.Mesh != "lamp" {
			t.Errorf("expected mesh lamp, got %q", down.Mesh)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for forwarded event")
	}
}

func TestConvertBroadcast(t *testing.T) {
	at := time.Unix(1000, 0).UTC()

	tests := []struct {
		name string
		in   StateBroadcast
		typ  string
	}{
		{"pose", BroadcastPose{At: at}, "pose"},
		{"button", BroadcastButton{At: at}, "button"},
		{"bulb", BroadcastBulb{Mesh: "lamp", Mode: rooms.BulbSwitch, On: true, At: at}, "bulb"},
		{"device", BroadcastDevice{Connected: true, ID: "x", At: at}, "device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := convertBroadcast(tt.in)
			if !ok {
				t.Fatalf("expected conversion to succeed")
			}
			if ev.Type != tt.typ {
				t.Errorf("expected type %q, got %q", tt.typ, ev.Type)
			}
			if !ev.At.Equal(at) {
				t.Errorf("expected at %v, got %v", at, ev.At)
			}
		})
	}

	ev, _ := convertBroadcast(BroadcastBulb{Mesh: "lamp", Mode: rooms.BulbSwitch, On: true})
	data, err := json.Marshal(ev.Data)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"mesh":"lamp","mode":"switch","on":true}` {
		t.Errorf("unexpected bulb payload %s", data)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
