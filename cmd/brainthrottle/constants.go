package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02

	// Relative axis codes emitted by mouse wheels.
	// The high-resolution variants (REL_WHEEL_HI_RES, REL_HWHEEL_HI_RES) are
	// reported alongside these by modern devices and are deliberately ignored
	// so a single detent is not counted twice.
	REL_HWHEEL        = 0x06
	REL_WHEEL         = 0x08
	REL_WHEEL_HI_RES  = 0x0b
	REL_HWHEEL_HI_RES = 0x0c
)

// Skim detection defaults
const (
	defaultPenaltyTimeoutSec = 5    // Seconds a penalty (screen dim) lasts
	defaultRestoreTimeoutSec = 10   // Seconds of scroll silence before the session total resets
	defaultScrollThreshold   = 1000 // Accumulated magnitude that counts as skimming

	// Penalty brightness below this is snapped to fully dark.
	penaltyFloor = 0.05
)

// Daemon plumbing defaults
const (
	defaultEventQueueSize = 64
	defaultIPCSocket      = "/tmp/brainthrottle.sock"
	defaultStateWSListen  = "127.0.0.1:3002"
	defaultStateWSPath    = "/ws"
	defaultBrightnessCmd  = "brightnessctl"
	defaultInputDevice    = "/dev/input/event3"
	sysfsBacklightRoot    = "/sys/class/backlight"
)
