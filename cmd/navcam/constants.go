package main

import "time"

const version = "0.3.0"

// Daemon defaults
const (
	defaultUpdateHz      = 60 // Frame loop frequency (Hz)
	defaultAxisScale     = 350.0
	defaultProxyRetryMS  = 2000
	defaultSocketPath    = "/tmp/navcam.sock"
	defaultStateAddr     = "127.0.0.1:3080"
	defaultStateWSPath   = "/ws"
	defaultSamplesWSPath = "/samples"
	defaultDevicePath    = "/dev/input/by-id/usb-3Dconnexion_SpaceNavigator-event-if00"
)

// wsPoseCoalesceWindow is the maximum time window during which pose updates
// are coalesced (latest-wins) before broadcasting to clients.
const wsPoseCoalesceWindow = 50 * time.Millisecond

// Pose changes smaller than these are not broadcast.
const (
	poseEpsPosition = 1e-4
	poseEpsDegrees  = 1e-3
)

// maxControllerID is the highest controller index a device source exposes.
const maxControllerID = 3

// deviceMissingWarning is logged once when no device is present at startup.
const deviceMissingWarning = "space navigator not found; connect and press any button to continue"
