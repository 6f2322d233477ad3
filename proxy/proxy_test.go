package proxy

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"navcam"
	"navcam/hub"
)

// fakeSource is a concurrency-safe SampleSource for one controller.
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

func (f *fakeSource) set(present bool, axes ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present = present
	f.sample = navcam.DeviceSample{ID: "remote", Connected: true, Axes: axes}
}

func connectedClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("ws://127.0.0.1:1/", 0, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.connected = true
	return c
}

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	msg, err := hub.Encode(typ, time.Time{}, data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return msg
}

func TestNewClient_RejectsNonWebsocketURL(t *testing.T) {
	if _, err := NewClient("http://localhost/", 0, nil); err == nil {
		t.Errorf("expected error for http scheme")
	}
	if _, err := NewClient("ws://localhost:8080/samples", 0, nil); err != nil {
		t.Errorf("expected ws URL accepted, got %v", err)
	}
}

func TestClient_HandleMessage(t *testing.T) {
	c := connectedClient(t)

	err := c.handleMessage(frame(t, FrameSample, SampleFrame{
		Controller: 1,
		Present:    true,
		Sample:     navcam.DeviceSample{ID: "sn", Connected: true, Axes: []float64{0.25}},
	}))
	if err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	s, ok := c.Sample(1)
	if !ok || s.ID != "sn" || s.Axis(0) != 0.25 {
		t.Fatalf("expected controller 1 sample, got ok=%v %+v", ok, s)
	}
	if _, ok := c.Sample(0); ok {
		t.Errorf("expected controller 0 absent")
	}

	// Absent frame removes the controller.
	if err := c.handleMessage(frame(t, FrameSample, SampleFrame{Controller: 1})); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if _, ok := c.Sample(1); ok {
		t.Errorf("expected controller 1 absent after absent frame")
	}

	// Snapshot replaces the table.
	err = c.handleMessage(frame(t, FrameSamples, SamplesFrame{Samples: []SampleFrame{
		{Controller: 2, Present: true, Sample: navcam.DeviceSample{Connected: true}},
	}}))
	if err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if _, ok := c.Sample(2); !ok {
		t.Errorf("expected controller 2 present after snapshot")
	}

	if err := c.handleMessage([]byte("not json")); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestClient_AbsentWhileDisconnected(t *testing.T) {
	c := connectedClient(t)
	_ = c.handleMessage(frame(t, FrameSample, SampleFrame{Controller: 0, Present: true}))

	c.disconnect()

	if c.IsConnected() {
		t.Errorf("expected disconnected")
	}
	if _, ok := c.Sample(0); ok {
		t.Errorf("expected every controller absent while disconnected")
	}
}

func TestPublisherToClient_EndToEnd(t *testing.T) {
	src := &fakeSource{}
	src.set(true, 0.5, 0, 0, 0, 0, 0)

	pub := NewPublisher(src, PublisherConfig{Interval: 5 * time.Millisecond}, nil)
	pubCtx, stopPub := context.WithCancel(context.Background())
	defer stopPub()
	go func() { _ = pub.Run(pubCtx) }()

	srv := httptest.NewServer(pub.Handler())
	defer srv.Close()

	client, err := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), 500*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	clientCtx, stopClient := context.WithCancel(context.Background())
	defer stopClient()
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		_ = client.Run(clientCtx)
	}()

	waitUntil(t, 2*time.Second, func() bool {
		s, ok := client.Sample(0)
		return ok && s.Axis(0) == 0.5
	}, "client never received initial sample")

	src.set(true, -1, 0, 0, 0, 0, 0)
	waitUntil(t, 2*time.Second, func() bool {
		s, ok := client.Sample(0)
		return ok && s.Axis(0) == -1
	}, "client never received updated sample")

	src.set(false)
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := client.Sample(0)
		return !ok && client.IsConnected()
	}, "client never saw device removal")

	// Publisher shutdown closes subscribers.
	stopPub()
	waitUntil(t, 2*time.Second, func() bool { return !client.IsConnected() }, "client still connected after publisher stop")

	stopClient()
	select {
	case <-clientDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("client Run did not return after cancel")
	}
}

func TestPublisher_PollTracksPresentControllers(t *testing.T) {
	src := &fakeSource{}
	src.set(true, 0.1)
	pub := NewPublisher(src, PublisherConfig{Hub: hub.Config{BroadcastBuf: 16}}, nil)

	pub.poll()
	pub.poll()

	snap := pub.snapshot()
	if len(snap.Samples) != 1 || snap.Samples[0].Sample.Axis(0) != 0.1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	src.set(false)
	pub.poll()
	if snap := pub.snapshot(); len(snap.Samples) != 0 {
		t.Errorf("expected empty snapshot after removal, got %+v", snap)
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
