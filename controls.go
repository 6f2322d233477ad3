// Package navcam turns a 6-degree-of-freedom pointing device into smoothed
// camera motion.
//
// A Controls value reads one controller index from a SampleSource each frame
// and integrates it into position (with easing and acceleration), rotation
// (yielding to any other controller that rotates the same object) and field
// of view (from scroll input). Button transitions are published as
// notifications on a Bus.
//
// Controls is single-owner: Tick, Update and Reset must be called from one
// goroutine, normally the host's render loop. The scroll methods may be
// called from any goroutine.
package navcam

import (
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Controls is the device-to-camera integrator for a single controller index.
type Controls struct {
	cfg       Config
	source    SampleSource
	transform Transform
	now       func() time.Time
	logger    *slog.Logger
	bus       *Bus

	motion   motionState
	rotation rotationState
	fov      fovState
	buttons  buttonState

	previousUpdate time.Time
	external       bool // Last tick observed external rotation control
}

// Option configures optional Controls collaborators.
type Option func(*Controls)

// WithTransform attaches a host transform. Without it the controls drive an
// internal LocalTransform.
func WithTransform(t Transform) Option {
	return func(c *Controls) {
		if t != nil {
			c.transform = t
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controls) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for state-change diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controls) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus publishes button notifications on an existing Bus.
func WithBus(b *Bus) Option {
	return func(c *Controls) {
		if b != nil {
			c.bus = b
		}
	}
}

// New creates controls for cfg.ControllerID reading from source.
// A nil source behaves like a permanently absent device.
func New(cfg Config, source SampleSource, options ...Option) *Controls {
	if source == nil {
		source = noSource{}
	}

	c := &Controls{
		cfg:       cfg,
		source:    source,
		transform: NewLocalTransform(),
		now:       time.Now,
		logger:    slog.Default(),
		bus:       NewBus(),
	}
	for _, option := range options {
		option(c)
	}

	c.fov.fov = defaultFov
	c.previousUpdate = c.now()
	return c
}

// ============================================================================
// Per-frame update
// ============================================================================

// Update advances all subsystems using the time elapsed since the previous
// Update (or since construction on the first call).
func (c *Controls) Update() {
	now := c.now()
	dt := now.Sub(c.previousUpdate)
	c.previousUpdate = now
	c.Tick(now, dt)
}

// Tick advances all subsystems by dt. now timestamps rotation activity and
// must come from a monotonic source.
func (c *Controls) Tick(now time.Time, dt time.Duration) {
	var sample *DeviceSample
	if s, ok := c.source.Sample(c.cfg.ControllerID); ok {
		sample = &s
	}

	c.updateRotation(sample, now)
	c.updatePosition(sample, dt)
	c.updateButtons(sample)
	if c.cfg.FovEnabled {
		c.updateFov(dt)
	}
}

func (c *Controls) updateRotation(sample *DeviceSample, now time.Time) {
	rot, ok := c.rotation.step(&c.cfg, sample, c.transform.Rotation(), now)

	external := c.rotation.externalActive(now)
	if external != c.external {
		c.external = external
		c.logger.Debug("rotation control changed", "external", external, "controller", c.cfg.ControllerID)
	}

	if !ok {
		return
	}
	c.transform.SetRotation(rot)
	c.rotation.commit(c.transform.Rotation(), now)
}

func (c *Controls) updatePosition(sample *DeviceSample, dt time.Duration) {
	// Direction comes from the host's live rotation, which may belong to
	// another controller when rotation has yielded.
	if !c.motion.step(&c.cfg, sample, dt, c.transform.Rotation()) {
		return
	}
	c.transform.SetPosition(c.motion.position)
}

func (c *Controls) updateButtons(sample *DeviceSample) {
	c.buttons.step(c.cfg.Enabled, sample, c.emit)
}

func (c *Controls) updateFov(dt time.Duration) {
	current, ok := c.transform.FOV()
	if !ok {
		current = c.fov.fov
	}
	if fov, ok := c.fov.step(&c.cfg, current, dt); ok {
		c.transform.SetFOV(fov)
	}
}

func (c *Controls) emit(ev ButtonEvent) {
	c.bus.Emit(ev.Type, ev)
	c.bus.Emit(ev.QualifiedName(), ev)
}

// ============================================================================
// Scroll input
// ============================================================================

// Scroll adds a raw signed delta to the scroll accumulator, honoring
// InvertScroll. Safe for concurrent use.
func (c *Controls) Scroll(delta float64) {
	if c.cfg.InvertScroll {
		delta = -delta
	}
	c.fov.addScroll(delta)
}

// WheelDelta feeds a wheel event measured in wheelDelta units (120 per notch,
// positive away from the user).
func (c *Controls) WheelDelta(wheelDelta float64) {
	c.Scroll(wheelDelta / wheelDeltaUnit)
}

// ScrollDetail feeds a line-based scroll event (3 per notch, positive toward
// the user).
func (c *Controls) ScrollDetail(detail float64) {
	c.Scroll(-detail)
}

// ============================================================================
// Accessors
// ============================================================================

// On registers a handler for a button notification name such as
// EventButtonDown or "buttonup:1".
func (c *Controls) On(name string, h ButtonHandler) {
	c.bus.On(name, h)
}

// Config returns the configuration the controls were built with.
func (c *Controls) Config() Config { return c.cfg }

// Transform returns the transform being driven.
func (c *Controls) Transform() Transform { return c.transform }

// Position returns the accumulated position.
func (c *Controls) Position() mgl64.Vec3 { return c.motion.position }

// Velocity returns the current camera-local velocity (units/s).
func (c *Controls) Velocity() mgl64.Vec3 { return c.motion.velocity }

// Movement returns the world-space displacement applied on the last tick.
func (c *Controls) Movement() mgl64.Vec3 { return c.motion.movement }

// FOV returns the last field of view committed by the controls.
func (c *Controls) FOV() float64 { return c.fov.fov }

// IsConnected reports whether a connected device is present at the
// configured controller index.
func (c *Controls) IsConnected() bool {
	s, ok := c.source.Sample(c.cfg.ControllerID)
	return ok && s.Connected
}

// ID returns the identification string of the active device, or "" when none
// is present. The format depends on the sample source.
func (c *Controls) ID() string {
	s, ok := c.source.Sample(c.cfg.ControllerID)
	if !ok {
		return ""
	}
	return s.ID
}

// Pose is a snapshot of the driven transform.
type Pose struct {
	Position mgl64.Vec3 `json:"position"`
	Rotation mgl64.Vec3 `json:"rotation"` // degrees (pitch, yaw, roll)
	FOV      float64    `json:"fov"`
}

// Pose returns the transform's current position, rotation and fov.
func (c *Controls) Pose() Pose {
	fov, ok := c.transform.FOV()
	if !ok {
		fov = c.fov.fov
	}
	return Pose{
		Position: c.transform.Position(),
		Rotation: c.transform.Rotation(),
		FOV:      fov,
	}
}

// Reset reinitializes motion, rotation, fov and button state and moves the
// transform back to the origin with zero rotation and the default fov.
func (c *Controls) Reset() {
	c.motion.reset()
	c.rotation.reset()
	c.fov.reset()
	c.buttons = buttonState{}
	c.external = false

	c.transform.SetPosition(mgl64.Vec3{})
	c.transform.SetRotation(mgl64.Vec3{})
	c.transform.SetFOV(defaultFov)
	c.previousUpdate = c.now()
}
