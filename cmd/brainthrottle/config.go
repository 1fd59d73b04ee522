package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the brainthrottle daemon.
//
// The config file is the primary configuration surface; flags are small
// overrides on top of it. Defaults and validation live here so the rest of
// the code can assume a well-formed config.
type Config struct {
	Input    InputConfig   `yaml:"input"`
	Display  DisplayConfig `yaml:"display"`
	Throttle ThrottleFile  `yaml:"throttle"`
	IPC      IPCConfig     `yaml:"ipc"`
	StateWS  StateWSConfig `yaml:"state_ws"`
	Logging  LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Devices []string `yaml:"devices"` // evdev nodes to read scroll events from
}

// Display backends.
const (
	displayBackendSysfs         = "sysfs"
	displayBackendBrightnessctl = "brightnessctl"
	displayBackendNone          = "none"
)

type DisplayConfig struct {
	Backend string `yaml:"backend"`           // sysfs | brightnessctl | none
	Device  string `yaml:"device,omitempty"`  // backlight name; empty picks the first one
	Command string `yaml:"command,omitempty"` // brightnessctl binary
}

// ThrottleFile is the user-facing form of ThrottleConfig.
type ThrottleFile struct {
	PenaltyTimeoutSec     float64 `yaml:"penalty_timeout_sec"`
	RestoreTimeoutSec     float64 `yaml:"restore_timeout_sec"`
	ScrollThreshold       int64   `yaml:"scroll_threshold"`
	ResetSessionOnRestore bool    `yaml:"reset_session_on_restore"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Devices: []string{defaultInputDevice},
		},
		Display: DisplayConfig{
			Backend: displayBackendSysfs,
			Command: defaultBrightnessCmd,
		},
		Throttle: ThrottleFile{
			PenaltyTimeoutSec: defaultPenaltyTimeoutSec,
			RestoreTimeoutSec: defaultRestoreTimeoutSec,
			ScrollThreshold:   defaultScrollThreshold,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		StateWS: StateWSConfig{
			Listen: defaultStateWSListen,
			Path:   defaultStateWSPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values to apply on top of a loaded config.
// A nil pointer means "flag not set".
type FlagOverrides struct {
	InputDevices []string

	DisplayBackend *string
	DisplayDevice  *string

	PenaltyTimeoutSec *float64
	RestoreTimeoutSec *float64
	ScrollThreshold   *int64

	IPCSocketPath *string

	StateWSEnabled *bool
	StateWSListen  *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg. Non-nil pointers are applied even if
// they hold a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if len(o.InputDevices) > 0 {
		cfg.Input.Devices = append([]string(nil), o.InputDevices...)
	}

	if o.DisplayBackend != nil {
		cfg.Display.Backend = *o.DisplayBackend
	}
	if o.DisplayDevice != nil {
		cfg.Display.Device = *o.DisplayDevice
	}

	if o.PenaltyTimeoutSec != nil {
		cfg.Throttle.PenaltyTimeoutSec = *o.PenaltyTimeoutSec
	}
	if o.RestoreTimeoutSec != nil {
		cfg.Throttle.RestoreTimeoutSec = *o.RestoreTimeoutSec
	}
	if o.ScrollThreshold != nil {
		cfg.Throttle.ScrollThreshold = *o.ScrollThreshold
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.StateWSEnabled != nil {
		cfg.StateWS.Enabled = *o.StateWSEnabled
	}
	if o.StateWSListen != nil {
		cfg.StateWS.Listen = *o.StateWSListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	switch c.Display.Backend {
	case displayBackendSysfs, displayBackendBrightnessctl, displayBackendNone:
	default:
		return fmt.Errorf("display.backend must be one of %q, %q, %q",
			displayBackendSysfs, displayBackendBrightnessctl, displayBackendNone)
	}
	if c.Display.Backend == displayBackendBrightnessctl && c.Display.Command == "" {
		return errors.New("display.command must not be empty for the brightnessctl backend")
	}

	if err := c.Throttle.validate(); err != nil {
		return err
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.StateWS.Enabled {
		if c.StateWS.Listen == "" {
			return errors.New("state_ws.enabled is true but state_ws.listen is empty")
		}
		if c.StateWS.Path == "" || c.StateWS.Path[0] != '/' {
			return errors.New("state_ws.path must start with '/'")
		}
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

func (t ThrottleFile) validate() error {
	if t.PenaltyTimeoutSec <= 0 {
		return errors.New("throttle.penalty_timeout_sec must be > 0")
	}
	if t.RestoreTimeoutSec <= 0 {
		return errors.New("throttle.restore_timeout_sec must be > 0")
	}
	if t.ScrollThreshold <= 0 {
		return errors.New("throttle.scroll_threshold must be > 0")
	}
	return nil
}

// ToThrottleConfig converts the file config into the reducer's tunables.
func (c *Config) ToThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		PenaltyTimeout:        secondsToDuration(c.Throttle.PenaltyTimeoutSec),
		RestoreTimeout:        secondsToDuration(c.Throttle.RestoreTimeoutSec),
		ScrollThreshold:       c.Throttle.ScrollThreshold,
		ResetSessionOnRestore: c.Throttle.ResetSessionOnRestore,
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
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
