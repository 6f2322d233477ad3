package navcam

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// motionState integrates device translation axes into a smoothed velocity and
// an accumulated position.
//
// This is owned by Controls and only mutated from its tick.
type motionState struct {
	position mgl64.Vec3 // World units
	velocity mgl64.Vec3 // World units per second, camera-local axes
	movement mgl64.Vec3 // Displacement applied on the last step (world space)
}

// step advances the motion state by dt.
//
// sample may be nil when no device is present; existing velocity still decays
// so in-flight motion comes to rest instead of freezing. rot is the host's
// current rotation in degrees and is used to carry the local displacement into
// world space. step reports false when dt was too large to integrate.
func (m *motionState) step(cfg *Config, sample *DeviceSample, dt time.Duration, rot mgl64.Vec3) bool {
	// Stalled frame (backgrounded tab, reconnect): drop all momentum instead of
	// integrating one huge jump.
	if dt > maxFrameDelta {
		m.velocity = mgl64.Vec3{}
		m.movement = mgl64.Vec3{}
		return false
	}

	secs := dt.Seconds()

	// Decay first, then accelerate. Both scale with dt so the result does not
	// depend on frame rate.
	m.velocity = m.velocity.Sub(m.velocity.Mul(cfg.MovementEasing * secs))

	if cfg.Enabled && cfg.MovementEnabled && sample != nil {
		accel := cfg.MovementAcceleration * secs

		// Device right/forward/down onto host X/Z/-Y.
		m.velocity[0] += sample.Axis(AxisX) * accel
		m.velocity[2] += sample.Axis(AxisY) * accel
		m.velocity[1] -= sample.Axis(AxisZ) * accel
	}

	m.movement = orientation(rot).Rotate(m.velocity.Mul(secs))
	m.position = m.position.Add(m.movement)
	return true
}

// reset clears all motion state.
func (m *motionState) reset() {
	*m = motionState{}
}
