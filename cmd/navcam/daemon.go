package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"navcam"
	"navcam/rooms"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The daemon goroutine owns Controls and Board. It advances the controls on a
// fixed cadence, applies IPC events between frames and emits state
// broadcasts. Nothing else calls Update, Reset or the Board mutators.
//
// ============================================================================

type daemon struct {
	controls   *navcam.Controls
	board      *rooms.Board
	broadcasts chan<- StateBroadcast
	now        func() time.Time
	logger     *slog.Logger

	lastPose    navcam.Pose
	poseKnown   bool
	connected   bool
	deviceID    string
	checkedOnce bool
}

// newDaemon wires button notifications and bulb changes into broadcasts.
// broadcasts may be nil when no state server runs.
func newDaemon(controls *navcam.Controls, room rooms.Room, broadcasts chan<- StateBroadcast, logger *slog.Logger) *daemon {
	d := &daemon{
		controls:   controls,
		broadcasts: broadcasts,
		now:        time.Now,
		logger:     logger,
	}
	d.board = rooms.NewBoard(room, rooms.BulbSetterFunc(d.onBulb), logger)

	controls.On(navcam.EventButtonDown, d.onButton)
	controls.On(navcam.EventButtonUp, d.onButton)
	return d
}

// run is the main daemon loop. It exits when ctx is canceled or events is
// closed.
func (d *daemon) run(ctx context.Context, events <-chan Event, updateHz int) {
	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				d.logger.Info("daemon stopping (events channel closed)")
				return
			}
			d.handle(ev)

		case <-ticker.C:
			d.tick()
		}
	}
}

// tick advances the controls by one frame and publishes what changed.
func (d *daemon) tick() {
	d.controls.Update()
	d.checkDevice()
	d.checkPose()
}

func (d *daemon) checkDevice() {
	connected := d.controls.IsConnected()
	id := d.controls.ID()

	if !d.checkedOnce {
		d.checkedOnce = true
		if !connected {
			d.logger.Warn(deviceMissingWarning)
		}
	} else if connected == d.connected && id == d.deviceID {
		return
	}

	if connected != d.connected {
		if connected {
			d.logger.Info("space navigator connected", "id", id)
		} else {
			d.logger.Warn("space navigator disconnected", "id", d.deviceID)
		}
	}
	d.connected = connected
	d.deviceID = id
	d.publish(BroadcastDevice{Connected: connected, ID: id, At: d.now()})
}

func (d *daemon) checkPose() {
	pose := d.controls.Pose()
	if d.poseKnown && !poseChanged(d.lastPose, pose) {
		return
	}
	d.lastPose = pose
	d.poseKnown = true
	d.publish(BroadcastPose{Pose: pose, At: d.now()})
}

func poseChanged(a, b navcam.Pose) bool {
	return a.Position.Sub(b.Position).Len() > poseEpsPosition ||
		a.Rotation.Sub(b.Rotation).Len() > poseEpsDegrees ||
		math.Abs(a.FOV-b.FOV) > poseEpsDegrees
}

// handle applies one external event.
func (d *daemon) handle(ev Event) {
	var err error

	switch e := ev.(type) {
	case ScrollInput:
		switch e.Unit {
		case ScrollUnitRaw:
			d.controls.Scroll(e.Delta)
		case ScrollUnitDetail:
			d.controls.ScrollDetail(e.Delta)
		default:
			d.controls.WheelDelta(e.Delta)
		}

	case MeshMouseEnter:
		err = d.board.MouseEnter(e.Mesh)
	case MeshMouseExit:
		err = d.board.MouseExit(e.Mesh)
	case MeshMouseDown:
		_, err = d.board.MouseDown(e.Mesh)
	case MeshTouchStart:
		_, err = d.board.TouchStart(e.Mesh)

	case ResetCamera:
		d.logger.Info("camera reset")
		d.controls.Reset()
		d.checkPose()

	case RequestStateSnapshot:
		if e.Reply != nil {
			// Reply is buffered by the requester.
			select {
			case e.Reply <- d.snapshot():
			default:
			}
		}

	default:
		d.logger.Warn("daemon ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}

	if err != nil {
		d.logger.Warn("mesh event failed", "error", err)
	}
}

func (d *daemon) snapshot() StateSnapshot {
	return StateSnapshot{
		Pose:      d.controls.Pose(),
		Connected: d.controls.IsConnected(),
		DeviceID:  d.controls.ID(),
		Lights:    d.board.Lights(),
		Tooltip:   d.board.Tooltip(),
		Cursor:    d.board.Cursor(),
		Meshes:    d.board.Meshes(),
	}
}

func (d *daemon) onButton(ev navcam.ButtonEvent) {
	d.logger.Debug("button", "type", ev.Type, "index", ev.Index, "value", ev.Value)
	d.publish(BroadcastButton{Event: ev, At: d.now()})
}

func (d *daemon) onBulb(mesh string, mode rooms.BulbMode, on bool) {
	d.publish(BroadcastBulb{Mesh: mesh, Mode: mode, On: on, At: d.now()})
}

// publish never blocks the frame loop; a full queue drops the broadcast.
func (d *daemon) publish(b StateBroadcast) {
	if d.broadcasts == nil {
		return
	}
	select {
	case d.broadcasts <- b:
	default:
		d.logger.Debug("broadcast queue full, dropping", "type", fmt.Sprintf("%T", b))
	}
}
