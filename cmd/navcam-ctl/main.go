package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// navcam-ctl - Command-line IPC Client
// ============================================================================
// Sends scroll, mesh and reset events to the navcam daemon via IPC.
//
// Usage:
//   navcam-ctl scroll 120
//   navcam-ctl scroll -3 detail
//   navcam-ctl enter Lamp_01
//   navcam-ctl click Lamp_01
//   navcam-ctl reset
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/navcam.sock)
// ============================================================================

// Event types (duplicated from the daemon for a standalone binary)
type Event interface{}

type ScrollInput struct {
	Delta float64 `json:"delta"`
	Unit  string  `json:"unit,omitempty"`
}

type MeshEvent struct {
	Type string `json:"-"`
	Mesh string `json:"mesh"`
}

type ResetCamera struct{}

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var meshCommands = map[string]string{
	"enter": "mesh_mouse_enter",
	"hover": "mesh_mouse_enter",
	"exit":  "mesh_mouse_exit",
	"leave": "mesh_mouse_exit",
	"click": "mesh_mouse_down",
	"touch": "mesh_touch_start",
}

func main() {
	socketPath := "/tmp/navcam.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var event Event

	switch cmd := args[0]; cmd {
	case "scroll", "zoom":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: scroll requires a delta\n")
			os.Exit(1)
		}
		delta, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid delta: %v\n", err)
			os.Exit(1)
		}
		ev := ScrollInput{Delta: delta}
		if len(args) > 2 {
			ev.Unit = args[2]
		}
		event = ev

	case "enter", "hover", "exit", "leave", "click", "touch":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: %s requires a mesh name\n", cmd)
			os.Exit(1)
		}
		event = MeshEvent{Type: meshCommands[cmd], Mesh: args[1]}

	case "reset":
		event = ResetCamera{}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err := sendEvent(socketPath, event); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func sendEvent(socketPath string, event Event) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}
	return nil
}

func marshalEvent(event Event) ([]byte, error) {
	var env EventEnvelope

	switch e := event.(type) {
	case ScrollInput:
		env.Type = "scroll"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ScrollInput: %w", err)
		}
		env.Data = data

	case MeshEvent:
		env.Type = e.Type
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.Type, err)
		}
		env.Data = data

	case ResetCamera:
		env.Type = "reset_camera"

	default:
		return nil, fmt.Errorf("unknown event type: %T", event)
	}

	return json.Marshal(env)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `navcam-ctl - Control the navcam daemon via IPC

Usage:
  navcam-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/navcam.sock)

Commands:
  scroll, zoom <delta> [unit]   Feed the fov scroll accumulator
                                unit: wheel (default, 120 per notch), detail, raw
  enter, hover <mesh>           Pointer entered a mesh
  exit, leave <mesh>            Pointer left a mesh
  click <mesh>                  Mouse down on a mesh (toggles its light)
  touch <mesh>                  Touch start on a mesh (toggles its light)
  reset                         Move the camera back to the origin
  help, -h, --help              Show this help message

Examples:
  navcam-ctl scroll -120
  navcam-ctl click Lamp_01
  navcam-ctl -socket /run/navcam.sock reset
`)
}
