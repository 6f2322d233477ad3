// Package rooms binds mesh pointer events to per-mesh light switches.
//
// A room lists its interactive meshes by name. Hovering a mesh highlights its
// bulb and shows its name as tooltip; clicking or touching it toggles the
// bulb. The first toggle of any mesh turns it on.
package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
)

// ErrUnknownMesh is returned for events naming a mesh the room does not list.
var ErrUnknownMesh = errors.New("unknown mesh")

// Room is the room description file.
type Room struct {
	MeshList []string `json:"MeshList"`
}

// ParseRoom decodes a room description.
func ParseRoom(data []byte) (Room, error) {
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return Room{}, fmt.Errorf("parse room: %w", err)
	}
	return r, nil
}

// LoadRoomFile reads and decodes a room description file.
func LoadRoomFile(path string) (Room, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Room{}, fmt.Errorf("read room file: %w", err)
	}
	r, err := ParseRoom(b)
	if err != nil {
		return Room{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// BulbMode selects which bulb property a state change addresses.
type BulbMode string

const (
	BulbHighlight BulbMode = "highlight"
	BulbSwitch    BulbMode = "switch"
)

// Cursor shapes reported while hovering.
const (
	CursorDefault = "default"
	CursorPointer = "pointer"
)

// BulbSetter applies bulb state to the rendered mesh.
type BulbSetter interface {
	SetBulbState(mesh string, mode BulbMode, on bool)
}

// BulbSetterFunc adapts a function to BulbSetter.
type BulbSetterFunc func(mesh string, mode BulbMode, on bool)

func (f BulbSetterFunc) SetBulbState(mesh string, mode BulbMode, on bool) { f(mesh, mode, on) }

// Board tracks light and hover state for one room. It is safe for
// concurrent use; the setter is called with no lock held.
type Board struct {
	setter BulbSetter
	logger *slog.Logger

	mu      sync.Mutex
	meshes  map[string]struct{}
	lights  map[string]bool // Absent until first toggled
	tooltip string
	cursor  string
}

// NewBoard creates a board for room. A nil setter discards bulb changes.
func NewBoard(room Room, setter BulbSetter, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	if setter == nil {
		setter = BulbSetterFunc(func(string, BulbMode, bool) {})
	}
	b := &Board{
		setter: setter,
		logger: logger,
		meshes: make(map[string]struct{}, len(room.MeshList)),
		lights: make(map[string]bool),
		cursor: CursorDefault,
	}
	for _, name := range room.MeshList {
		b.meshes[name] = struct{}{}
	}
	return b
}

// check reports ErrUnknownMesh for names the room does not list. Callers
// hold b.mu and log the error themselves.
func (b *Board) check(event, name string) error {
	if _, ok := b.meshes[name]; !ok {
		return fmt.Errorf("%s %q: %w", event, name, ErrUnknownMesh)
	}
	return nil
}

// MouseEnter highlights name and makes it the tooltip.
func (b *Board) MouseEnter(name string) error {
	b.mu.Lock()
	if err := b.check("mouse_enter", name); err != nil {
		b.mu.Unlock()
		return err
	}
	b.tooltip = name
	b.cursor = CursorPointer
	b.mu.Unlock()

	b.logger.Debug("mesh mouse enter", "mesh", name)
	b.setter.SetBulbState(name, BulbHighlight, true)
	return nil
}

// MouseExit removes the highlight from name. The tooltip keeps showing the
// last hovered mesh.
func (b *Board) MouseExit(name string) error {
	b.mu.Lock()
	if err := b.check("mouse_exit", name); err != nil {
		b.mu.Unlock()
		return err
	}
	b.cursor = CursorDefault
	b.mu.Unlock()

	b.logger.Debug("mesh mouse exit", "mesh", name)
	b.setter.SetBulbState(name, BulbHighlight, false)
	return nil
}

// MouseDown toggles the light of name.
func (b *Board) MouseDown(name string) (bool, error) {
	return b.toggle("mouse_down", name)
}

// TouchStart toggles the light of name.
func (b *Board) TouchStart(name string) (bool, error) {
	return b.toggle("touch_start", name)
}

// Toggle flips the light of name and returns the new state.
func (b *Board) Toggle(name string) (bool, error) {
	return b.toggle("toggle", name)
}

func (b *Board) toggle(event, name string) (bool, error) {
	b.mu.Lock()
	if err := b.check(event, name); err != nil {
		b.mu.Unlock()
		return false, err
	}
	on := true
	if prev, ok := b.lights[name]; ok {
		on = !prev
	}
	b.lights[name] = on
	b.mu.Unlock()

	b.logger.Debug("mesh light switched", "event", event, "mesh", name, "on", on)
	b.setter.SetBulbState(name, BulbSwitch, on)
	return on, nil
}

// LightState reports the light of name and whether it was ever toggled.
func (b *Board) LightState(name string) (on, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	on, known = b.lights[name]
	return on, known
}

// Lights returns a copy of every toggled light.
func (b *Board) Lights() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.lights)
}

// Tooltip returns the name of the last hovered mesh, or "".
func (b *Board) Tooltip() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tooltip
}

// Cursor returns the cursor shape for the current hover state.
func (b *Board) Cursor() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Meshes returns the interactive mesh names in sorted order.
func (b *Board) Meshes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.meshes))
}
