// Package proxy carries device samples over a websocket.
//
// A Publisher serves the samples of a local navcam.SampleSource to any
// number of subscribers. A Client subscribes to a publisher and is itself a
// navcam.SampleSource, so controls on another machine (or in another
// process) can be driven by the same hardware.
package proxy

import (
	"navcam"
)

// Frame types in the hub envelope.
const (
	FrameSamples = "samples" // Full snapshot, sent on connect and periodically
	FrameSample  = "sample"  // One controller changed
)

// SampleFrame is the data payload of a "sample" frame. Present false means
// the controller has no device; Sample is then empty.
type SampleFrame struct {
	Controller int                 `json:"controller"`
	Present    bool                `json:"present"`
	Sample     navcam.DeviceSample `json:"sample"`
}

// SamplesFrame is the data payload of a "samples" snapshot frame. Controllers
// missing from Samples are absent.
type SamplesFrame struct {
	Samples []SampleFrame `json:"samples"`
}
