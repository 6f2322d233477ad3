package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"navcam"
	"navcam/device"
)

// Config is the top-level YAML configuration for the navcam daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	// Local evdev input
	Device DeviceConfig `yaml:"device"`

	// Controls tuning, mapped onto navcam.Config
	Controls ControlsConfig `yaml:"controls"`

	// Frame loop
	Frame FrameConfig `yaml:"frame"`

	// Remote sample proxy (replaces local devices when enabled)
	Proxy ProxyConfig `yaml:"proxy"`

	// IPC configuration (navcam-ctl and scene integrations)
	IPC IPCConfig `yaml:"ipc"`

	// State websocket server
	State StateConfig `yaml:"state"`

	// Room description for mesh events
	Rooms RoomsConfig `yaml:"rooms"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type DeviceConfig struct {
	Paths        []string `yaml:"paths"`                  // Paths[i] is controller i
	ControllerID int      `yaml:"controller_id"`          // Index the camera follows
	AxisScale    float64  `yaml:"axis_scale"`             // Raw magnitude mapped to 1.0
	WheelDevice  string   `yaml:"wheel_device,omitempty"` // Optional pointer device for scroll
}

// ControlsConfig mirrors navcam.Config with YAML-friendly names.
type ControlsConfig struct {
	Enabled         bool `yaml:"enabled"`
	MovementEnabled bool `yaml:"movement_enabled"`
	LookEnabled     bool `yaml:"look_enabled"`
	RollEnabled     bool `yaml:"roll_enabled"`
	InvertPitch     bool `yaml:"invert_pitch"`
	FovEnabled      bool `yaml:"fov_enabled"`
	InvertScroll    bool `yaml:"invert_scroll"`

	RotationSensitivity  float64 `yaml:"rotation_sensitivity"`
	MovementEasing       float64 `yaml:"movement_easing"`
	MovementAcceleration float64 `yaml:"movement_acceleration"`
	FovSensitivity       float64 `yaml:"fov_sensitivity"`
	FovEasing            float64 `yaml:"fov_easing"`
	FovAcceleration      float64 `yaml:"fov_acceleration"`
	FovMin               float64 `yaml:"fov_min"`
	FovMax               float64 `yaml:"fov_max"`
}

type FrameConfig struct {
	UpdateHz int `yaml:"update_hz"`
}

type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	WsURL   string `yaml:"ws_url"`
	RetryMS int    `yaml:"retry_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateConfig struct {
	ListenAddr     string `yaml:"listen_addr"` // Empty disables the HTTP server
	WsPath         string `yaml:"ws_path"`
	PublishSamples bool   `yaml:"publish_samples"` // Serve local samples for remote proxies
	SamplesPath    string `yaml:"samples_path"`
}

type RoomsConfig struct {
	File string `yaml:"file"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	cc := navcam.DefaultConfig()
	return Config{
		Device: DeviceConfig{
			Paths:     []string{defaultDevicePath},
			AxisScale: defaultAxisScale,
		},
		Controls: ControlsConfig{
			Enabled:         cc.Enabled,
			MovementEnabled: cc.MovementEnabled,
			LookEnabled:     cc.LookEnabled,
			RollEnabled:     cc.RollEnabled,
			InvertPitch:     cc.InvertPitch,
			FovEnabled:      cc.FovEnabled,
			InvertScroll:    cc.InvertScroll,

			RotationSensitivity:  cc.RotationSensitivity,
			MovementEasing:       cc.MovementEasing,
			MovementAcceleration: cc.MovementAcceleration,
			FovSensitivity:       cc.FovSensitivity,
			FovEasing:            cc.FovEasing,
			FovAcceleration:      cc.FovAcceleration,
			FovMin:               cc.FovMin,
			FovMax:               cc.FovMax,
		},
		Frame: FrameConfig{
			UpdateHz: defaultUpdateHz,
		},
		Proxy: ProxyConfig{
			Enabled: false,
			RetryMS: defaultProxyRetryMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		State: StateConfig{
			ListenAddr:  defaultStateAddr,
			WsPath:      defaultStateWSPath,
			SamplesPath: defaultSamplesWSPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from command-line flags. Each override is only
// applied if its pointer is non-nil.
type FlagOverrides struct {
	DevicePaths  *string // Comma-separated
	ControllerID *int
	WheelDevice  *string

	UpdateHz *int

	ProxyEnabled *bool
	ProxyWsURL   *string

	IPCSocketPath *string

	StateListenAddr     *string
	StatePublishSamples *bool

	RoomsFile *string

	InvertPitch  *bool
	InvertScroll *bool

	LogLevel *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil, the value
// is applied (even if it is a zero value).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.DevicePaths != nil {
		cfg.Device.Paths = splitList(*o.DevicePaths)
	}
	if o.ControllerID != nil {
		cfg.Device.ControllerID = *o.ControllerID
	}
	if o.WheelDevice != nil {
		cfg.Device.WheelDevice = *o.WheelDevice
	}

	if o.UpdateHz != nil {
		cfg.Frame.UpdateHz = *o.UpdateHz
	}

	if o.ProxyEnabled != nil {
		cfg.Proxy.Enabled = *o.ProxyEnabled
	}
	if o.ProxyWsURL != nil {
		cfg.Proxy.WsURL = *o.ProxyWsURL
		if *o.ProxyWsURL != "" && o.ProxyEnabled == nil {
			cfg.Proxy.Enabled = true
		}
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.StateListenAddr != nil {
		cfg.State.ListenAddr = *o.StateListenAddr
	}
	if o.StatePublishSamples != nil {
		cfg.State.PublishSamples = *o.StatePublishSamples
	}

	if o.RoomsFile != nil {
		cfg.Rooms.File = *o.RoomsFile
	}

	if o.InvertPitch != nil {
		cfg.Controls.InvertPitch = *o.InvertPitch
	}
	if o.InvertScroll != nil {
		cfg.Controls.InvertScroll = *o.InvertScroll
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Device
	if c.Device.ControllerID < 0 || c.Device.ControllerID > maxControllerID {
		return fmt.Errorf("device.controller_id must be between 0 and %d", maxControllerID)
	}
	if !c.Proxy.Enabled {
		if len(c.Device.Paths) == 0 {
			return errors.New("device.paths must not be empty (or enable proxy)")
		}
		for i, p := range c.Device.Paths {
			if p == "" {
				return fmt.Errorf("device.paths[%d] is empty", i)
			}
		}
		if len(c.Device.Paths) > maxControllerID+1 {
			return fmt.Errorf("device.paths supports at most %d devices", maxControllerID+1)
		}
	}
	if c.Device.AxisScale <= 0 {
		return errors.New("device.axis_scale must be > 0")
	}

	// Controls. The navcam package takes any tuning as-is; an empty fov
	// window would freeze zoom, so the daemon refuses it at startup.
	if c.Controls.FovMin >= c.Controls.FovMax {
		return errors.New("controls.fov_min must be < controls.fov_max")
	}

	// Frame
	if c.Frame.UpdateHz <= 0 || c.Frame.UpdateHz > 1000 {
		return errors.New("frame.update_hz must be between 1 and 1000")
	}

	// Proxy
	if c.Proxy.Enabled {
		if c.Proxy.WsURL == "" {
			return errors.New("proxy.enabled is true but proxy.ws_url is empty")
		}
		u, err := url.Parse(c.Proxy.WsURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("proxy.ws_url must be a ws:// or wss:// URL, got %q", c.Proxy.WsURL)
		}
		if c.State.PublishSamples {
			return errors.New("state.publish_samples requires local devices (disable proxy)")
		}
	}
	if c.Proxy.RetryMS <= 0 {
		return errors.New("proxy.retry_ms must be > 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// State
	if c.State.ListenAddr != "" {
		if !strings.HasPrefix(c.State.WsPath, "/") {
			return errors.New("state.ws_path must start with /")
		}
		if c.State.PublishSamples {
			if !strings.HasPrefix(c.State.SamplesPath, "/") {
				return errors.New("state.samples_path must start with /")
			}
			if c.State.SamplesPath == c.State.WsPath {
				return errors.New("state.samples_path must differ from state.ws_path")
			}
		}
	} else if c.State.PublishSamples {
		return errors.New("state.publish_samples requires state.listen_addr")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToControlsConfig converts the file config into the controls' configuration.
func (c *Config) ToControlsConfig() navcam.Config {
	return navcam.Config{
		ControllerID: c.Device.ControllerID,

		Enabled:         c.Controls.Enabled,
		MovementEnabled: c.Controls.MovementEnabled,
		LookEnabled:     c.Controls.LookEnabled,
		RollEnabled:     c.Controls.RollEnabled,
		InvertPitch:     c.Controls.InvertPitch,
		FovEnabled:      c.Controls.FovEnabled,
		InvertScroll:    c.Controls.InvertScroll,

		RotationSensitivity:  c.Controls.RotationSensitivity,
		MovementEasing:       c.Controls.MovementEasing,
		MovementAcceleration: c.Controls.MovementAcceleration,
		FovSensitivity:       c.Controls.FovSensitivity,
		FovEasing:            c.Controls.FovEasing,
		FovAcceleration:      c.Controls.FovAcceleration,
		FovMin:               c.Controls.FovMin,
		FovMax:               c.Controls.FovMax,
	}
}

// ToDeviceConfig converts the file config into the evdev poller configuration.
func (c *Config) ToDeviceConfig() device.Config {
	paths := make([]string, len(c.Device.Paths))
	for i, p := range c.Device.Paths {
		paths[i] = ExpandPath(p)
	}
	return device.Config{
		Paths:     paths,
		WheelPath: ExpandPath(c.Device.WheelDevice),
		AxisScale: c.Device.AxisScale,
	}
}

// ProxyRetry returns the proxy reconnect delay.
func (c *Config) ProxyRetry() time.Duration {
	return time.Duration(c.Proxy.RetryMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
