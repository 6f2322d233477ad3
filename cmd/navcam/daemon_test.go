package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"navcam"
	"navcam/rooms"
)

// fakeSource is a SampleSource for controller 0 that tests can swap.
type fakeSource struct {
	mu      sync.Mutex
	sample  navcam.DeviceSample
	present bool
}

func (f *fakeSource) Sample(controller int) (navcam.DeviceSample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if controller != 0 || !f.present {
		return navcam.DeviceSample{}, false
	}
	return f.sample.Clone(), true
}

func (f *fakeSource) set(s navcam.DeviceSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = s
	f.present = true
}

func (f *fakeSource) unplug() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present = false
}

// fakeClock advances by one frame each time it is read.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(16 * time.Millisecond)
	return c.t
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDaemon(t *testing.T, src *fakeSource, room rooms.Room) (*daemon, chan StateBroadcast) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	controls := navcam.New(navcam.DefaultConfig(), src, navcam.WithClock(clock.now), navcam.WithLogger(testLogger()))
	broadcasts := make(chan StateBroadcast, 64)
	return newDaemon(controls, room, broadcasts, testLogger()), broadcasts
}

func drain(ch chan StateBroadcast) []StateBroadcast {
	var out []StateBroadcast
	for {
		select {
		case b := <-ch:
			out = append(out, b)
		default:
			return out
		}
	}
}

func idleSample() navcam.DeviceSample {
	return navcam.DeviceSample{
		ID:        "SpaceNavigator",
		Connected: true,
		Axes:      make([]float64, navcam.NumAxes),
		Buttons:   make([]navcam.Button, 2),
	}
}

func TestDaemon_FirstTickPublishesDeviceAndPose(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	d, broadcasts := newTestDaemon(t, src, rooms.Room{})

	d.tick()

	got := drain(broadcasts)
	if len(got) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d: %#v", len(got), got)
	}
	dev, ok := got[0].(BroadcastDevice)
	if !ok {
		t.Fatalf("expected BroadcastDevice first, got %T", got[0])
	}
	if !dev.Connected || dev.ID != "SpaceNavigator" {
		t.Errorf("expected connected SpaceNavigator, got %+v", dev)
	}
	pose, ok := got[1].(BroadcastPose)
	if !ok {
		t.Fatalf("expected BroadcastPose second, got %T", got[1])
	}
	if pose.Pose.FOV != 60 {
		t.Errorf("expected default fov 60, got %v", pose.Pose.FOV)
	}
}

func TestDaemon_IdleTicksPublishNothing(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	d, broadcasts := newTestDaemon(t, src, rooms.Room{})

	d.tick()
	drain(broadcasts)

	for i := 0; i < 5; i++ {
		d.tick()
	}
	if got := drain(broadcasts); len(got) != 0 {
		t.Errorf("expected no broadcasts while idle, got %d: %#v", len(got), got)
	}
}

func TestDaemon_MovementPublishesPose(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	d, broadcasts := newTestDaemon(t, src, rooms.Room{})
	d.tick()
	drain(broadcasts)

	s := idleSample()
	s.Axes[navcam.AxisZ] = 1
	src.set(s)
	d.tick()

	var poses int
	for _, b := range drain(broadcasts) {
		if _, ok := b.(BroadcastPose); ok {
			poses++
		}
	}
	if poses != 1 {
		t.Errorf("expected 1 pose broadcast, got %d", poses)
	}
}

func TestDaemon_DeviceDisconnectPublished(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	d, broadcasts := newTestDaemon(t, src, rooms.Room{})
	d.tick()
	drain(broadcasts)

	src.unplug()
	d.tick()

	got := drain(broadcasts)
	if len(got) != 1 {
		t.Fatalf("expected 1 broadcast, got %d: %#v", len(got), got)
	}
	dev, ok := got[0].(BroadcastDevice)
	if !ok {
		t.Fatalf("expected BroadcastDevice, got %T", got[0])
	}
	if dev.Connected || dev.ID != "" {
		t.Errorf("expected disconnected device without id, got %+v", dev)
	}
}

func TestDaemon_ButtonEdgesBroadcast(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	d, broadcasts := newTestDaemon(t, src, rooms.Room{})
	d.tick()
	drain(broadcasts)

	s := idleSample()
	s.Buttons[1] = navcam.Button{Pressed: true, Value: 1}
	src.set(s)
	d.tick()
	d.tick()

	src.set(idleSample())
	d.tick()

	var buttons []navcam.ButtonEvent
	for _, b := range drain(broadcasts) {
		if bb, ok := b.(BroadcastButton); ok {
			buttons = append(buttons, bb.Event)
		}
	}
	if len(buttons) != 2 {
		t.Fatalf("expected down and up, got %d: %#v", len(buttons), buttons)
	}
	if buttons[0].Type != navcam.EventButtonDown || buttons[0].Index != 1 {
		t.Errorf("expected buttondown index 1, got %+v", buttons[0])
	}
	if buttons[1].Type != navcam.EventButtonUp || buttons[1].Index != 1 {
		t.Errorf("expected buttonup index 1, got %+v", buttons[1])
	}
}

func TestDaemon_ScrollUnits(t *testing.T) {
	tests := []struct {
		name string
		ev   ScrollInput
	}{
		{"raw", ScrollInput{Delta: 1, Unit: ScrollUnitRaw}},
		{"wheel", ScrollInput{Delta: 120, Unit: ScrollUnitWheel}},
		{"detail", ScrollInput{Delta: -1, Unit: ScrollUnitDetail}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			src.set(idleSample())
			d, _ := newTestDaemon(t, src, rooms.Room{})

			d.handle(tt.ev)
			d.tick()

			if fov := d.controls.FOV(); fov <= 60 {
				t.Errorf("expected fov above 60 after scroll, got %v", fov)
			}
		})
	}
}

func TestDaemon_MeshEventsDriveBoard(t *testing.T) {
	src := &fakeSource{}
	room := rooms.Room{MeshList: []string{"lamp", "desk"}}
	d, broadcasts := newTestDaemon(t, src, room)

	d.handle(MeshMouseEnter{Mesh: "lamp"})
	d.handle(MeshMouseDown{Mesh: "lamp"})
	d.handle(MeshTouchStart{Mesh: "desk"})
	d.handle(MeshMouseExit{Mesh: "lamp"})
	d.handle(MeshMouseDown{Mesh: "ghost"})

	var bulbs []BroadcastBulb
	for _, b := range drain(broadcasts) {
		if bb, ok := b.(BroadcastBulb); ok {
			bulbs = append(bulbs, bb)
		}
	}

	want := []BroadcastBulb{
		{Mesh: "lamp", Mode: rooms.BulbHighlight, On: true},
		{Mesh: "lamp", Mode: rooms.BulbSwitch, On: true},
		{Mesh: "desk", Mode: rooms.BulbSwitch, On: true},
		{Mesh: "lamp", Mode: rooms.BulbHighlight, On: false},
	}
	if len(bulbs) != len(want) {
		t.Fatalf("expected %d bulb broadcasts, got %d: %#v", len(want), len(bulbs), bulbs)
	}
	for i, w := range want {
		if bulbs[i].Mesh != w.Mesh || bulbs[i].Mode != w.Mode || bulbs[i].On != w.On {
			t.Errorf("bulb %d: expected %+v, got %+v", i, w, bulbs[i])
		}
	}

	snap := d.snapshot()
	if !snap.Lights["lamp"] || !snap.Lights["desk"] {
		t.Errorf("expected both lights on, got %v", snap.Lights)
	}
	if snap.Cursor != rooms.CursorDefault {
		t.Errorf("expected default cursor after exit, got %q", snap.Cursor)
	}
}

func TestDaemon_ResetCamera(t *testing.T) {
	src := &fakeSource{}
	s := idleSample()
	s.Axes[navcam.AxisX] = 1
	src.set(s)
	d, broadcasts := newTestDaemon(t, src, rooms.Room{})

	for i := 0; i < 10; i++ {
		d.tick()
	}
	if d.controls.Pose().Position.Len() == 0 {
		t.Fatalf("expected camera to have moved")
	}
	drain(broadcasts)

	src.set(idleSample())
	d.handle(ResetCamera{})

	pose := d.controls.Pose()
	if pose.Position.Len() != 0 || pose.Rotation.Len() != 0 {
		t.Errorf("expected origin after reset, got %+v", pose)
	}

	got := drain(broadcasts)
	if len(got) != 1 {
		t.Fatalf("expected 1 pose broadcast after reset, got %d", len(got))
	}
	if _, ok := got[0].(BroadcastPose); !ok {
		t.Errorf("expected BroadcastPose, got %T", got[0])
	}
}

func TestDaemon_RunAnswersSnapshotRequests(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	d, _ := newTestDaemon(t, src, rooms.Room{MeshList: []string{"lamp"}})

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 4)
	done := make(chan struct{})
	go func() {
		d.run(ctx, events, 100)
		close(done)
	}()

	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}

	select {
	case snap := <-reply:
		if !snap.Connected || snap.DeviceID != "SpaceNavigator" {
			t.Errorf("expected connected SpaceNavigator, got %+v", snap)
		}
		if len(snap.Meshes) != 1 || snap.Meshes[0] != "lamp" {
			t.Errorf("expected meshes [lamp], got %v", snap.Meshes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
}

func TestDaemon_NilBroadcastsDoesNotBlock(t *testing.T) {
	src := &fakeSource{}
	src.set(idleSample())
	controls := navcam.New(navcam.DefaultConfig(), src, navcam.WithLogger(testLogger()))
	d := newDaemon(controls, rooms.Room{MeshList: []string{"lamp"}}, nil, testLogger())

	d.tick()
	if _, err := d.board.Toggle("lamp"); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
}

func TestDaemon_UnknownMeshLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	controls := navcam.New(navcam.DefaultConfig(), &fakeSource{}, navcam.WithLogger(testLogger()))
	d := newDaemon(controls, rooms.Room{MeshList: []string{"lamp"}}, nil, logger)

	d.handle(MeshMouseDown{Mesh: "ghost"})

	if n := strings.Count(buf.String(), "unknown mesh"); n != 1 {
		t.Errorf("expected one unknown mesh log line, got %d: %q", n, buf.String())
	}
	if _, known := d.board.LightState("ghost"); known {
		t.Errorf("expected ghost light to stay unknown")
	}
}
