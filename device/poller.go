// Package device polls Linux evdev nodes and exposes them as navcam sample
// sources.
//
// Each configured path is one controller index, in order. The poller folds
// relative, absolute and key events into a pending frame and publishes it on
// SYN_REPORT, so Sample always returns a complete frame. The kernel sends no
// frame once a relative axis returns to zero, so relative axes read as rest
// after RestTimeout without a report. A lost device is reported absent and
// reopened in the background; nodes missing at startup are retried while the
// others keep reading.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"navcam"
)

// ErrNoDevices is returned when none of the configured nodes could be opened.
var ErrNoDevices = errors.New("no input devices available")

const (
	defaultAxisScale     = 350.0
	defaultRetryInterval = time.Second
	defaultRestTimeout   = 50 * time.Millisecond
)

// Config selects the evdev nodes to read.
type Config struct {
	// Paths are the space navigator nodes; Paths[i] is controller i.
	Paths []string

	// WheelPath is an optional pointer device whose REL_WHEEL events feed
	// the scroll handler.
	WheelPath string

	// AxisScale is the raw magnitude mapped to 1.0. Zero means 350.
	AxisScale float64

	// RetryInterval is how long to wait before reopening lost nodes.
	RetryInterval time.Duration

	// RestTimeout is how long relative axes keep their last report when no
	// new frame arrives. Zero means 50ms.
	RestTimeout time.Duration
}

// Poller implements navcam.SampleSource over evdev nodes.
type Poller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	devices []*deviceState
	onWheel func(wheelDelta float64)
}

var _ navcam.SampleSource = (*Poller)(nil)

// New creates a poller. Call Run to start reading.
func New(cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AxisScale <= 0 {
		cfg.AxisScale = defaultAxisScale
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.RestTimeout <= 0 {
		cfg.RestTimeout = defaultRestTimeout
	}

	p := &Poller{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		devices: make([]*deviceState, len(cfg.Paths)),
	}
	for i, path := range cfg.Paths {
		p.devices[i] = newDeviceState(path, cfg.AxisScale)
	}
	return p
}

// OnWheel sets the handler for wheel events from WheelPath, in wheel-delta
// units (120 per notch, positive away from the user). It is called on the
// poller goroutine.
func (p *Poller) OnWheel(fn func(wheelDelta float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWheel = fn
}

// Sample returns the latest complete frame for controller, or false when no
// device is open at that index. Relative axes read zero once the last frame
// is older than RestTimeout.
func (p *Poller) Sample(controller int) (navcam.DeviceSample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if controller < 0 || controller >= len(p.devices) {
		return navcam.DeviceSample{}, false
	}
	d := p.devices[controller]
	if !d.present {
		return navcam.DeviceSample{}, false
	}
	s := d.snapshot()
	if p.now().Sub(d.committed) > p.cfg.RestTimeout {
		for i, isRel := range d.relAxes {
			if isRel {
				s.Axes[i] = 0
			}
		}
	}
	return s, true
}

// Run opens the configured nodes and reads them until ctx is canceled.
// Nodes that fail are closed, marked absent and reopened after
// RetryInterval.
func (p *Poller) Run(ctx context.Context) error {
	warned := false
	for {
		srcs, err := p.open()
		switch {
		case err == nil:
			warned = false
			srcs, err = p.read(ctx, srcs)
			p.close(srcs)
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("input device lost, retrying", "error", err, "retry", p.cfg.RetryInterval)

		case errors.Is(err, ErrNoDevices):
			if !warned {
				p.logger.Debug("no input devices yet", "paths", p.cfg.Paths)
				warned = true
			}

		default:
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.RetryInterval):
		}
	}
}

// open opens every configured node that is available. It returns
// ErrNoDevices when not a single controller node could be opened.
func (p *Poller) open() ([]source, error) {
	srcs := p.openMissing(nil)
	for _, src := range srcs {
		if src.index != wheelIndex {
			return srcs, nil
		}
	}
	for _, src := range srcs {
		_ = src.f.Close()
	}
	return nil, ErrNoDevices
}

// openMissing opens the configured nodes that have no source in open and
// returns only the newly opened ones.
func (p *Poller) openMissing(open []source) []source {
	have := make(map[int]bool, len(open))
	for _, src := range open {
		have[src.index] = true
	}

	var srcs []source
	for i, path := range p.cfg.Paths {
		if have[i] {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			p.logger.Debug("open input device failed", "path", path, "error", err)
			continue
		}
		srcs = append(srcs, source{f: f, path: path, index: i})

		p.mu.Lock()
		p.devices[i].connect(deviceName(path))
		p.mu.Unlock()
		p.logger.Info("input device opened", "path", path, "controller", i)
	}

	if p.cfg.WheelPath != "" && !have[wheelIndex] {
		f, err := os.Open(p.cfg.WheelPath)
		if err != nil {
			p.logger.Debug("open wheel device failed", "path", p.cfg.WheelPath, "error", err)
		} else {
			srcs = append(srcs, source{f: f, path: p.cfg.WheelPath, index: wheelIndex})
			p.logger.Info("wheel device opened", "path", p.cfg.WheelPath)
		}
	}
	return srcs
}

func (p *Poller) close(srcs []source) {
	p.mu.Lock()
	for _, src := range srcs {
		if src.index >= 0 {
			p.devices[src.index].disconnect()
		}
	}
	p.mu.Unlock()

	for _, src := range srcs {
		_ = src.f.Close()
	}
}

// read runs the reader over srcs and folds events until ctx is canceled or
// a node fails. Nodes missing from srcs are retried every RetryInterval and
// get their own reader. It returns every source it opened so the caller can
// close them.
func (p *Poller) read(ctx context.Context, srcs []source) ([]source, error) {
	events := make(chan taggedEvent, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go readLoop(srcs, events, readErr, stop)

	retry := time.NewTicker(p.cfg.RetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return srcs, ctx.Err()
		case err := <-readErr:
			return srcs, fmt.Errorf("read input: %w", err)
		case <-retry.C:
			if len(srcs) == p.wantSources() {
				continue
			}
			if more := p.openMissing(srcs); len(more) > 0 {
				srcs = append(srcs, more...)
				go readLoop(more, events, readErr, stop)
			}
		case te := <-events:
			p.apply(te.index, te.ev)
		}
	}
}

// wantSources is the number of sources when every configured node is open.
func (p *Poller) wantSources() int {
	n := len(p.cfg.Paths)
	if p.cfg.WheelPath != "" {
		n++
	}
	return n
}

// apply folds one event into the state for index.
func (p *Poller) apply(index int, ev inputEvent) {
	if index == wheelIndex {
		if ev.Type == evRel && ev.Code == relWheel && ev.Value != 0 {
			p.mu.Lock()
			fn := p.onWheel
			p.mu.Unlock()
			if fn != nil {
				fn(float64(ev.Value) * wheelUnitsPerNotch)
			}
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.devices) {
		return
	}
	p.devices[index].apply(ev, p.now())
}

// deviceName reads the kernel's name for an event node from sysfs, falling
// back to the node path.
func deviceName(path string) string {
	base := filepath.Base(path)
	b, err := os.ReadFile(filepath.Join("/sys/class/input", base, "device", "name"))
	if err != nil {
		return path
	}
	name := strings.TrimSpace(string(b))
	if name == "" {
		return path
	}
	return name
}

// ============================================================================
// Per-device frame state
// ============================================================================

// deviceState is owned by the Poller and guarded by its mutex.
type deviceState struct {
	id      string
	path    string
	scale   float64
	present bool

	axes    [navcam.NumAxes]float64
	buttons []navcam.Button

	// Pending frame, published on SYN_REPORT.
	pendingAxes    [navcam.NumAxes]float64
	pendingButtons []navcam.Button
	relSeen        [navcam.NumAxes]bool
	relAxes        [navcam.NumAxes]bool
	dropped        bool

	// When the last frame was published.
	committed time.Time
}

func newDeviceState(path string, scale float64) *deviceState {
	return &deviceState{path: path, id: path, scale: scale}
}

func (d *deviceState) connect(name string) {
	*d = deviceState{id: name, path: d.path, scale: d.scale, present: true}
}

func (d *deviceState) disconnect() {
	d.present = false
}

func (d *deviceState) apply(ev inputEvent, now time.Time) {
	switch ev.Type {
	case evRel:
		if int(ev.Code) >= navcam.NumAxes {
			return
		}
		d.relAxes[ev.Code] = true
		d.relSeen[ev.Code] = true
		d.pendingAxes[ev.Code] = d.normalize(ev.Value)

	case evAbs:
		if int(ev.Code) >= navcam.NumAxes {
			return
		}
		d.pendingAxes[ev.Code] = d.normalize(ev.Value)

	case evKey:
		if ev.Code < btnMisc || ev.Code >= btnMisc+maxButtons {
			return
		}
		i := int(ev.Code - btnMisc)
		for len(d.pendingButtons) <= i {
			d.pendingButtons = append(d.pendingButtons, navcam.Button{})
		}
		pressed := ev.Value != 0 // 2 is autorepeat
		value := 0.0
		if pressed {
			value = 1
		}
		d.pendingButtons[i] = navcam.Button{Pressed: pressed, Value: value}

	case evSyn:
		switch ev.Code {
		case synDropped:
			// Kernel buffer overrun: discard until the next report.
			d.dropped = true
		case synReport:
			if d.dropped {
				d.dropped = false
				d.relSeen = [navcam.NumAxes]bool{}
				return
			}
			d.commit(now)
		}
	}
}

// commit publishes the pending frame. Relative axes only report motion, so a
// relative axis missing from this frame is at rest.
func (d *deviceState) commit(now time.Time) {
	for i := range d.pendingAxes {
		if d.relAxes[i] && !d.relSeen[i] {
			d.pendingAxes[i] = 0
		}
	}
	d.relSeen = [navcam.NumAxes]bool{}

	d.axes = d.pendingAxes
	d.buttons = append(d.buttons[:0], d.pendingButtons...)
	d.committed = now
}

func (d *deviceState) normalize(v int32) float64 {
	n := float64(v) / d.scale
	return math.Max(-1, math.Min(1, n))
}

func (d *deviceState) snapshot() navcam.DeviceSample {
	axes := make([]float64, navcam.NumAxes)
	copy(axes, d.axes[:])
	return navcam.DeviceSample{
		ID:        d.id,
		Connected: d.present,
		Axes:      axes,
		Buttons:   append([]navcam.Button(nil), d.buttons...),
	}
}
