package navcam

import (
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// fovState turns accumulated scroll input into a smoothed field of view.
//
// The scroll accumulator is written by whatever goroutine delivers wheel
// events and read once per tick, so it is guarded by mu. Everything else is
// only touched from the tick.
type fovState struct {
	mu     sync.Mutex
	scroll float64

	previousScroll float64
	fov            float64 // Degrees
	velocity       float64
}

// addScroll adds a signed delta to the scroll accumulator.
func (f *fovState) addScroll(delta float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scroll += delta
}

func (f *fovState) currentScroll() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scroll
}

// step advances the fov velocity by dt starting from current (degrees).
//
// Zoom is integrated in lens distance (1/tan(fov/2)) so that equal scroll
// input feels equally strong at any zoom level. A result at or beyond
// [FovMin, FovMax] is dropped for this tick rather than clamped.
func (f *fovState) step(cfg *Config, current float64, dt time.Duration) (float64, bool) {
	if dt > maxFovFrameDelta {
		return 0, false
	}
	secs := dt.Seconds()

	lensDistance := 1 / math.Tan(mgl64.DegToRad(current/2))

	// Easing
	f.velocity -= f.velocity * secs * cfg.FovEasing
	if math.Abs(f.velocity) < fovVelocitySnap {
		f.velocity = 0
	}

	// Acceleration
	scroll := f.currentScroll()
	f.velocity += (f.previousScroll - scroll) * secs * cfg.FovAcceleration
	f.previousScroll = scroll

	fov := mgl64.RadToDeg(math.Atan(1/(lensDistance+f.velocity*cfg.FovSensitivity)) * 2)
	if fov > cfg.FovMin && fov < cfg.FovMax {
		f.fov = fov
		return fov, true
	}
	return 0, false
}

// reset stops any zoom in flight and rebases the accumulator.
func (f *fovState) reset() {
	f.velocity = 0
	f.previousScroll = f.currentScroll()
	f.fov = defaultFov
}
