package main

import (
	"encoding/json"
	"fmt"
	"time"

	"navcam"
	"navcam/rooms"
)

// ============================================================================
// Event Types
// ============================================================================
// Events are inputs to the daemon loop from IPC and the state websocket.
// The daemon loop is the only goroutine that touches Controls and Board.
// ============================================================================

// Event is a marker interface for all daemon inputs.
type Event interface {
	eventMarker()
}

// Scroll units accepted by ScrollInput.
const (
	ScrollUnitRaw    = "raw"    // Added to the accumulator as-is
	ScrollUnitWheel  = "wheel"  // wheelDelta units, 120 per notch
	ScrollUnitDetail = "detail" // Line units, 3 per notch, positive toward the user
)

// ScrollInput feeds the fov scroll accumulator.
type ScrollInput struct {
	Delta float64 `json:"delta"`
	Unit  string  `json:"unit,omitempty"` // Defaults to ScrollUnitWheel
}

func (ScrollInput) eventMarker() {}

// MeshMouseEnter indicates the pointer entered an interactive mesh.
type MeshMouseEnter struct {
	Mesh string `json:"mesh"`
}

func (MeshMouseEnter) eventMarker() {}

// MeshMouseExit indicates the pointer left an interactive mesh.
type MeshMouseExit struct {
	Mesh string `json:"mesh"`
}

func (MeshMouseExit) eventMarker() {}

// MeshMouseDown indicates a click on an interactive mesh.
type MeshMouseDown struct {
	Mesh string `json:"mesh"`
}

func (MeshMouseDown) eventMarker() {}

// MeshTouchStart indicates a touch on an interactive mesh.
type MeshTouchStart struct {
	Mesh string `json:"mesh"`
}

func (MeshTouchStart) eventMarker() {}

// ResetCamera moves the camera back to the origin.
type ResetCamera struct{}

func (ResetCamera) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for a snapshot. It is internal
// and has no JSON form.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// StateSnapshot is the externally visible daemon state.
type StateSnapshot struct {
	Pose      navcam.Pose     `json:"pose"`
	Connected bool            `json:"connected"`
	DeviceID  string          `json:"device_id,omitempty"`
	Lights    map[string]bool `json:"lights"`
	Tooltip   string          `json:"tooltip,omitempty"`
	Cursor    string          `json:"cursor"`
	Meshes    []string        `json:"meshes"`
}

// ============================================================================
// Broadcast Types
// ============================================================================
// Broadcasts flow from the daemon loop to the state websocket broadcaster.
// ============================================================================

// StateBroadcast is a marker interface for outbound state changes.
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastPose struct {
	Pose navcam.Pose
	At   time.Time
}

type BroadcastButton struct {
	Event navcam.ButtonEvent
	At    time.Time
}

type BroadcastBulb struct {
	Mesh string
	Mode rooms.BulbMode
	On   bool
	At   time.Time
}

type BroadcastDevice struct {
	Connected bool
	ID        string
	At        time.Time
}

func (BroadcastPose) broadcastMarker()   {}
func (BroadcastButton) broadcastMarker() {}
func (BroadcastBulb) broadcastMarker()   {}
func (BroadcastDevice) broadcastMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "scroll":
		var e ScrollInput
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ScrollInput: %w", err)
		}
		switch e.Unit {
		case "":
			e.Unit = ScrollUnitWheel
		case ScrollUnitRaw, ScrollUnitWheel, ScrollUnitDetail:
		default:
			return nil, fmt.Errorf("unknown scroll unit: %q", e.Unit)
		}
		return e, nil

	case "mesh_mouse_enter":
		var e MeshMouseEnter
		if err := unmarshalMesh(env, &e.Mesh); err != nil {
			return nil, err
		}
		return e, nil

	case "mesh_mouse_exit":
		var e MeshMouseExit
		if err := unmarshalMesh(env, &e.Mesh); err != nil {
			return nil, err
		}
		return e, nil

	case "mesh_mouse_down":
		var e MeshMouseDown
		if err := unmarshalMesh(env, &e.Mesh); err != nil {
			return nil, err
		}
		return e, nil

	case "mesh_touch_start":
		var e MeshTouchStart
		if err := unmarshalMesh(env, &e.Mesh); err != nil {
			return nil, err
		}
		return e, nil

	case "reset_camera":
		return ResetCamera{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// unmarshalMesh decodes the {"mesh": ...} payload shared by all mesh events.
func unmarshalMesh(env EventEnvelope, mesh *string) error {
	var p struct {
		Mesh string `json:"mesh"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	if p.Mesh == "" {
		return fmt.Errorf("%s: mesh must not be empty", env.Type)
	}
	*mesh = p.Mesh
	return nil
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case ScrollInput:
		env.Type = "scroll"
		payload = e
	case MeshMouseEnter:
		env.Type = "mesh_mouse_enter"
		payload = e
	case MeshMouseExit:
		env.Type = "mesh_mouse_exit"
		payload = e
	case MeshMouseDown:
		env.Type = "mesh_mouse_down"
		payload = e
	case MeshTouchStart:
		env.Type = "mesh_touch_start"
		payload = e
	case ResetCamera:
		env.Type = "reset_camera"
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
