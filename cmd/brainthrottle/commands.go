package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
// In this codebase, those are brightness backend calls and countdown control.
type Command interface {
	commandMarker()
	String() string
}

// CmdReadBrightness queries the current brightness for a triggering scroll.
// The result comes back as BrightnessRead (or BrightnessReadFailed) carrying
// the same Magnitude, so the reducer can compute the penalty from a fresh value.
type CmdReadBrightness struct {
	Magnitude int64
}

func (CmdReadBrightness) commandMarker() {}
func (c CmdReadBrightness) String() string {
	return fmt.Sprintf("CmdReadBrightness(magnitude=%d)", c.Magnitude)
}

// CmdSetBrightness sets the display brightness.
type CmdSetBrightness struct {
	Target float64
	Reason string // "penalty", "expired", "interrupt", "manual", "countdown_failed"
}

func (CmdSetBrightness) commandMarker() {}
func (c CmdSetBrightness) String() string {
	return fmt.Sprintf("CmdSetBrightness(target=%.3f, reason=%s)", c.Target, c.Reason)
}

// CmdArmCountdown (re)arms the single penalty countdown. Any pending expiry is
// replaced.
type CmdArmCountdown struct {
	Gen   uint64
	After time.Duration
}

func (CmdArmCountdown) commandMarker() {}
func (c CmdArmCountdown) String() string {
	return fmt.Sprintf("CmdArmCountdown(gen=%d, after=%s)", c.Gen, c.After)
}

// CmdCancelCountdown disarms the penalty countdown.
type CmdCancelCountdown struct{}

func (CmdCancelCountdown) commandMarker() {}
func (CmdCancelCountdown) String() string { return "CmdCancelCountdown()" }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// CmdExit stops the daemon loop after all earlier commands have run.
type CmdExit struct{}

func (CmdExit) commandMarker() {}
func (CmdExit) String() string { return "CmdExit()" }
