package navcam

// Config contains the per-instance settings of a Controls component.
//
// It is copied at construction and never changes afterwards. Tuning values are
// accepted as-is; only the controller index is range-checked by callers that
// read it from user input.
type Config struct {
	// ControllerID selects which device index (0-3) this instance reads.
	ControllerID int

	// Feature toggles
	Enabled         bool // Gates device-driven movement and buttons; look has its own toggle
	MovementEnabled bool
	LookEnabled     bool
	RollEnabled     bool
	InvertPitch     bool
	FovEnabled      bool
	InvertScroll    bool

	// Rotation
	RotationSensitivity float64 // Radians per unit of axis deflection per frame

	// Movement
	MovementEasing       float64 // Velocity decay rate (1/s)
	MovementAcceleration float64 // Units/s² at full deflection

	// Field of view
	FovSensitivity  float64 // Lens-distance change per unit of fov velocity
	FovEasing       float64 // Fov velocity decay rate (1/s)
	FovAcceleration float64 // Fov velocity gained per scroll unit per second
	FovMin          float64 // Exclusive lower bound (degrees)
	FovMax          float64 // Exclusive upper bound (degrees)
}

// DefaultConfig returns a Config with every feature enabled and the stock tuning.
func DefaultConfig() Config {
	return Config{
		ControllerID: 0,

		Enabled:         true,
		MovementEnabled: true,
		LookEnabled:     true,
		RollEnabled:     true,
		InvertPitch:     false,
		FovEnabled:      true,
		InvertScroll:    false,

		RotationSensitivity:  defaultRotationSensitivity,
		MovementEasing:       defaultMovementEasing,
		MovementAcceleration: defaultMovementAcceleration,
		FovSensitivity:       defaultFovSensitivity,
		FovEasing:            defaultFovEasing,
		FovAcceleration:      defaultFovAcceleration,
		FovMin:               defaultFovMin,
		FovMax:               defaultFovMax,
	}
}
