package navcam

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is the host-side accessor for the object the controls drive.
//
// Rotation is expressed in degrees as (pitch, yaw, roll), applied in YXZ order.
// The controls never assume exclusive ownership: other writers may change any
// of these values between ticks. FOV reports false when the host has no field
// of view to offer, in which case the controls fall back to their own value.
type Transform interface {
	Position() mgl64.Vec3
	SetPosition(p mgl64.Vec3)

	Rotation() mgl64.Vec3
	SetRotation(r mgl64.Vec3)

	FOV() (float64, bool)
	SetFOV(fov float64)
}

// LocalTransform is an in-memory Transform used when no host is attached.
// It is safe for concurrent use so that a headless caller can read it from
// another goroutine.
type LocalTransform struct {
	mu       sync.Mutex
	position mgl64.Vec3
	rotation mgl64.Vec3
	fov      float64
}

var _ Transform = (*LocalTransform)(nil)

// NewLocalTransform returns a transform at the origin with zero rotation.
func NewLocalTransform() *LocalTransform {
	return &LocalTransform{fov: defaultFov}
}

func (t *LocalTransform) Position() mgl64.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

func (t *LocalTransform) SetPosition(p mgl64.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = p
}

func (t *LocalTransform) Rotation() mgl64.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rotation
}

func (t *LocalTransform) SetRotation(r mgl64.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotation = r
}

func (t *LocalTransform) FOV() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fov, true
}

func (t *LocalTransform) SetFOV(fov float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fov = fov
}

// orientation converts a (pitch, yaw, roll) rotation in degrees into a
// quaternion using YXZ order: yaw first, then pitch, then roll.
func orientation(deg mgl64.Vec3) mgl64.Quat {
	qy := mgl64.QuatRotate(mgl64.DegToRad(deg[1]), mgl64.Vec3{0, 1, 0})
	qx := mgl64.QuatRotate(mgl64.DegToRad(deg[0]), mgl64.Vec3{1, 0, 0})
	qz := mgl64.QuatRotate(mgl64.DegToRad(deg[2]), mgl64.Vec3{0, 0, 1})
	return qy.Mul(qx).Mul(qz)
}

// distanceSq returns the squared euclidean distance between a and b.
func distanceSq(a, b mgl64.Vec3) float64 {
	d := a.Sub(b)
	return d.Dot(d)
}
