package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// Event types and codes from linux/input-event-codes.h.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport  = 0x00
	synDropped = 0x03

	relWheel = 0x08

	btnMisc = 0x100 // BTN_0; the space navigator buttons start here

	maxButtons = 32
)

// wheelUnitsPerNotch converts REL_WHEEL notches into wheel-delta units.
const wheelUnitsPerNotch = 120

// source is one opened event node. index is the controller index, or
// wheelIndex for the pointer device feeding scroll.
type source struct {
	f     *os.File
	path  string
	index int
}

const wheelIndex = -1

// taggedEvent is an inputEvent together with the source it came from.
type taggedEvent struct {
	index int
	ev    inputEvent
}

var eventSize = binary.Size(inputEvent{})

// decodeEvent parses one little-endian input_event record.
func decodeEvent(reader *bytes.Reader, buf []byte) (inputEvent, error) {
	reader.Reset(buf)
	var ev inputEvent
	err := binary.Read(reader, binary.LittleEndian, &ev)
	return ev, err
}

// readInputEvents reads input events from one file and sends them to a
// channel. It blocks on read and returns when the file is closed or fails.
func readInputEvents(src source, events chan<- taggedEvent, readErr chan<- error, stop <-chan struct{}) {
	buf := make([]byte, eventSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(src.f, buf); err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			select {
			case readErr <- &deviceError{path: src.path, err: err}:
			case <-stop:
			}
			return
		}

		ev, err := decodeEvent(reader, buf)
		if err != nil {
			// Skip malformed events
			continue
		}

		select {
		case events <- taggedEvent{index: src.index, ev: ev}:
		case <-stop:
			return
		}
	}
}

// deviceError attributes a read failure to the node it came from.
type deviceError struct {
	path string
	err  error
}

func (e *deviceError) Error() string { return e.path + ": " + e.err.Error() }
func (e *deviceError) Unwrap() error { return e.err }
