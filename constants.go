package navcam

import "time"

// Frame-time guards
const (
	maxFrameDelta    = 200 * time.Millisecond  // Larger dt resets movement velocity (tab stall, reconnect)
	maxFovFrameDelta = 1000 * time.Millisecond // Larger dt skips the FOV step entirely
)

// Rotation arbitration
const (
	// rotationSquelch zeroes rotation axes whose magnitude is below it.
	// Kept at 0 so the squelch never fires; raise it for noisy devices.
	rotationSquelch = 0.0

	externalRotationEps = 0.0001                 // Squared distance (deg²) that counts as a different orientation
	externalDebounce    = 500 * time.Millisecond // Local rotation yields for this long after external activity
)

// Field of view
const (
	defaultFov      = 60.0  // Degrees, used until the host reports one
	fovVelocitySnap = 0.001 // |fovVelocity| below this snaps to 0 after easing
	wheelDeltaUnit  = 60.0  // One wheelDelta unit in scroll-accumulator units
)

// Default tuning values
const (
	defaultRotationSensitivity  = 0.05
	defaultMovementEasing       = 3.0
	defaultMovementAcceleration = 700.0
	defaultFovSensitivity       = 0.01
	defaultFovEasing            = 3.0
	defaultFovAcceleration      = 5.0
	defaultFovMin               = 2.0
	defaultFovMax               = 115.0
)

// Device axis layout (3Dconnexion convention, right-handed)
//
//	0: - left / + right          (X axis pointing right)
//	1: - backwards / + forward   (Z axis pointing forward)
//	2: - up / + down             (Y axis pointing down)
//	3: - pitch down / + pitch up (rotation about X)
//	4: - roll right / + roll left (rotation about Z)
//	5: - yaw right / + yaw left  (rotation about Y)
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisPitch
	AxisRoll
	AxisYaw

	NumAxes
)
