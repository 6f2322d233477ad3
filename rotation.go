package navcam

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// rotationState turns device rotation axes into a camera orientation while
// yielding to any other controller that rotates the same object.
//
// There is no explicit state enum. Each tick compares the host's current
// rotation against the rotation seen on the previous tick and the rotation this
// component wrote last; a mismatch with both means someone else moved the
// object.
type rotationState struct {
	// Independent accumulators (radians)
	pitch float64
	yaw   float64
	roll  float64

	prevInitial mgl64.Vec3 // Host rotation observed at the start of the previous tick (degrees)
	prevFinal   mgl64.Vec3 // Rotation this component last wrote, as read back from the host (degrees)

	lastLocal    time.Time
	lastExternal time.Time
}

// step runs one arbitration tick.
//
// current is the host's rotation in degrees at the start of the tick. When
// local rotation should be applied step returns the new rotation (degrees)
// and true; the caller writes it and then calls commit.
func (r *rotationState) step(cfg *Config, sample *DeviceSample, current mgl64.Vec3, now time.Time) (mgl64.Vec3, bool) {
	if !cfg.LookEnabled || sample == nil {
		return mgl64.Vec3{}, false
	}

	// Host rotation moved since last tick and does not match what we wrote:
	// another controller is active on this object.
	if distanceSq(current, r.prevInitial) > externalRotationEps &&
		distanceSq(current, r.prevFinal) > externalRotationEps {
		r.prevInitial = current
		r.lastExternal = now
		return mgl64.Vec3{}, false
	}

	r.prevInitial = current

	// Yield while external control was active recently, even if it is idle now.
	if now.Sub(r.lastExternal) < externalDebounce {
		return mgl64.Vec3{}, false
	}

	delta := mgl64.Vec3{
		sample.Axis(AxisPitch),
		sample.Axis(AxisYaw),
		sample.Axis(AxisRoll),
	}
	for i := range delta {
		if math.Abs(delta[i]) < rotationSquelch {
			delta[i] = 0
		}
	}

	// NOTE: this squares the magnitude and always yields a non-positive pitch
	// delta; it is not a plain sign flip.
	if cfg.InvertPitch {
		delta[0] *= -delta[0]
	}

	// External control was more recent than ours and the device is idle:
	// don't reassert stale local state.
	if r.lastExternal.After(r.lastLocal) && delta.Dot(delta) == 0 {
		return mgl64.Vec3{}, false
	}

	delta = delta.Mul(cfg.RotationSensitivity)

	r.pitch += delta[0]
	r.yaw -= delta[1]
	r.roll += delta[2]

	roll := 0.0
	if cfg.RollEnabled {
		roll = r.roll
	}

	return mgl64.Vec3{
		mgl64.RadToDeg(r.pitch),
		mgl64.RadToDeg(r.yaw),
		mgl64.RadToDeg(roll),
	}, true
}

// commit records the rotation the host reports after our write.
func (r *rotationState) commit(written mgl64.Vec3, now time.Time) {
	r.prevFinal = written
	r.lastLocal = now
}

// externalActive reports whether external control is inside its debounce window.
func (r *rotationState) externalActive(now time.Time) bool {
	return !r.lastExternal.IsZero() && now.Sub(r.lastExternal) < externalDebounce
}

func (r *rotationState) reset() {
	*r = rotationState{}
}
