package navcam

// Button is the state of one device button for a single frame.
type Button struct {
	Pressed bool    `json:"pressed"`
	Value   float64 `json:"value"`
}

// DeviceSample is one frame of raw device input.
//
// Axes follow the AxisX..AxisYaw layout with values roughly in [-1, 1].
// A sample is only valid for the frame it was fetched in.
type DeviceSample struct {
	ID        string    `json:"id,omitempty"`
	Connected bool      `json:"connected"`
	Axes      []float64 `json:"axes"`
	Buttons   []Button  `json:"buttons"`
}

// Axis returns axis i, or 0 when the device reports fewer axes.
func (s DeviceSample) Axis(i int) float64 {
	if i < 0 || i >= len(s.Axes) {
		return 0
	}
	return s.Axes[i]
}

// Clone returns a deep copy that does not share slices with s.
func (s DeviceSample) Clone() DeviceSample {
	out := s
	out.Axes = append([]float64(nil), s.Axes...)
	out.Buttons = append([]Button(nil), s.Buttons...)
	return out
}

// SampleSource supplies raw samples per controller index.
//
// Sample reports false when no device is present at that index. Local hardware
// polls and remote proxies implement the same contract; the controls treat an
// absent sample identically regardless of where it came from.
type SampleSource interface {
	Sample(controller int) (DeviceSample, bool)
}

// SampleSourceFunc adapts a plain function to SampleSource.
type SampleSourceFunc func(controller int) (DeviceSample, bool)

func (f SampleSourceFunc) Sample(controller int) (DeviceSample, bool) { return f(controller) }

// noSource is used when Controls is built without a source.
type noSource struct{}

func (noSource) Sample(int) (DeviceSample, bool) { return DeviceSample{}, false }
