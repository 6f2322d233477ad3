package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"navcam/hub"
	"navcam/rooms"
)

// ============================================================================
// State WebSocket: snapshot on connect + broadcaster
// ============================================================================
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
//   - "state_init" is sent once on connect with a StateSnapshot in data.
//   - "pose" frames are coalesced (latest-wins) within wsPoseCoalesceWindow.
//   - "button", "bulb" and "device" frames are sent immediately, after any
//     pending pose.
//
// Clients may also send event envelopes (same format as IPC); they are fed
// to the daemon loop.
//
// ============================================================================

type wsButtonData struct {
	Type    string  `json:"type"`
	Index   int     `json:"index"`
	Pressed bool    `json:"pressed"`
	Value   float64 `json:"value"`
}

type wsBulbData struct {
	Mesh string         `json:"mesh"`
	Mode rooms.BulbMode `json:"mode"`
	On   bool           `json:"on"`
}

type wsDeviceData struct {
	Connected bool   `json:"connected"`
	ID        string `json:"id,omitempty"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

type stateServer struct {
	hub    *hub.Hub
	events chan<- Event
	logger *slog.Logger
}

func newStateServer(h *hub.Hub, events chan<- Event, logger *slog.Logger) *stateServer {
	return &stateServer{hub: h, events: events, logger: logger}
}

func (s *stateServer) Handler() http.HandlerFunc {
	return s.hub.Handler(hub.HandlerOptions{
		OnConnect: s.sendInit,
		OnMessage: s.handleMessage,
	})
}

// sendInit requests a snapshot through the daemon loop and enqueues it as
// the client's first frame.
func (s *stateServer) sendInit(r *http.Request, c *hub.Client) {
	reply := make(chan StateSnapshot, 1)

	select {
	case <-r.Context().Done():
		return
	case s.events <- RequestStateSnapshot{Reply: reply}:
	}

	waitCtx := r.Context()
	if _, has := r.Context().Deadline(); !has {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
	}

	select {
	case <-waitCtx.Done():
		if !errors.Is(waitCtx.Err(), context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", waitCtx.Err())
		}

	case snap := <-reply:
		msg, err := hub.Encode("state_init", time.Time{}, snap)
		if err != nil {
			s.logger.Warn("ws state_init marshal failed", "error", err)
			return
		}
		c.Enqueue(msg)
	}
}

func (s *stateServer) handleMessage(c *hub.Client, data []byte) {
	ev, err := UnmarshalEvent(data)
	if err != nil {
		s.logger.Debug("ws client sent invalid event", "client", c.ID(), "error", err)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event queue full, dropping ws event", "client", c.ID())
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads daemon-emitted StateBroadcast values, marshals them
// and broadcasts them to all hub clients. Intended to run as a single
// goroutine.
func RunBroadcaster(ctx context.Context, h *hub.Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if h == nil || src == nil {
		return
	}

	// Flush the latest pending pose at most once every wsPoseCoalesceWindow,
	// even if updates keep arriving.
	var pendingPose *wsOutboundEvent
	var poseTimer *time.Timer
	var poseTimerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		if err := h.Broadcast(ev.Type, ev.At, ev.Data); err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
		}
	}

	flushPendingPose := func() {
		if pendingPose == nil {
			return
		}
		emit(*pendingPose)
		pendingPose = nil
	}

	stopPoseTimer := func() {
		if poseTimer != nil && !poseTimer.Stop() {
			select {
			case <-poseTimer.C:
			default:
			}
		}
		poseTimer = nil
		poseTimerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingPose()
			stopPoseTimer()
			return

		case <-poseTimerCh:
			flushPendingPose()
			poseTimer = nil
			poseTimerCh = nil

		case b, ok := <-src:
			if !ok {
				flushPendingPose()
				stopPoseTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "pose" {
				pendingPose = &ev
				if poseTimer == nil {
					poseTimer = time.NewTimer(wsPoseCoalesceWindow)
					poseTimerCh = poseTimer.C
				}
				continue
			}

			flushPendingPose()
			stopPoseTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastPose:
		return wsOutboundEvent{Type: "pose", Data: ev.Pose, At: ev.At}, true

	case BroadcastButton:
		return wsOutboundEvent{
			Type: "button",
			Data: wsButtonData{
				Type:    ev.Event.Type,
				Index:   ev.Event.Index,
				Pressed: ev.Event.Pressed,
				Value:   ev.Event.Value,
			},
			At: ev.At,
		}, true

	case BroadcastBulb:
		return wsOutboundEvent{
			Type: "bulb",
			Data: wsBulbData{Mesh: ev.Mesh, Mode: ev.Mode, On: ev.On},
			At:   ev.At,
		}, true

	case BroadcastDevice:
		return wsOutboundEvent{
			Type: "device",
			Data: wsDeviceData{Connected: ev.Connected, ID: ev.ID},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
