package navcam

import (
	"fmt"
	"sync"
)

// Button notification names. Every transition is emitted twice: once under the
// generic name and once qualified with the button index ("buttondown:3").
const (
	EventButtonDown = "buttondown"
	EventButtonUp   = "buttonup"
)

// ButtonEvent describes one button transition.
type ButtonEvent struct {
	Type    string  `json:"type"` // EventButtonDown or EventButtonUp
	Index   int     `json:"index"`
	Pressed bool    `json:"pressed"`
	Value   float64 `json:"value"`
}

// QualifiedName returns the index-qualified notification name, e.g. "buttonup:2".
func (e ButtonEvent) QualifiedName() string {
	return fmt.Sprintf("%s:%d", e.Type, e.Index)
}

// ButtonHandler receives button notifications.
type ButtonHandler func(ev ButtonEvent)

// Bus dispatches button notifications to handlers registered by name.
// Handlers run synchronously on the emitting goroutine.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]ButtonHandler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]ButtonHandler)}
}

// On registers h for notifications named name.
func (b *Bus) On(name string, h ButtonHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit calls every handler registered under name.
func (b *Bus) Emit(name string, ev ButtonEvent) {
	b.mu.Lock()
	hs := append([]ButtonHandler(nil), b.handlers[name]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// buttonState diffs button presses between frames.
type buttonState struct {
	pressed map[int]bool
}

// step compares the sample's buttons with the previous frame and calls emit
// for every transition. When the device is disabled or absent the stored
// state is dropped so a reconnecting device starts clean.
func (b *buttonState) step(enabled bool, sample *DeviceSample, emit func(ButtonEvent)) {
	if !enabled || sample == nil {
		if len(b.pressed) > 0 {
			b.pressed = nil
		}
		return
	}

	if b.pressed == nil {
		b.pressed = make(map[int]bool, len(sample.Buttons))
	}

	for i, btn := range sample.Buttons {
		was := b.pressed[i]
		switch {
		case btn.Pressed && !was:
			emit(ButtonEvent{Type: EventButtonDown, Index: i, Pressed: btn.Pressed, Value: btn.Value})
		case !btn.Pressed && was:
			emit(ButtonEvent{Type: EventButtonUp, Index: i, Pressed: btn.Pressed, Value: btn.Value})
		}
		b.pressed[i] = btn.Pressed
	}
}
