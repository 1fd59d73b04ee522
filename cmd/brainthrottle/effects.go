package main

import (
	"errors"
	"log/slog"
	"time"
)

// runEffect executes a single reducer-emitted Command against the display and
// the penalty countdown, and emits an observation Event via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
// - The daemon loop is responsible for sequencing: Reduce -> Commands -> runEffect -> Events -> Reduce.
//
// CmdExit is handled by the daemon loop itself and never reaches here.
func runEffect(
	display BrightnessActuator,
	timer Countdown,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdReadBrightness:
		if display == nil {
			onEvent(BrightnessReadFailed{Magnitude: c.Magnitude, Err: errNoActuator{}, At: now})
			return
		}
		b, err := display.Brightness()
		if err != nil {
			logDisplayError(logger, "brightness read failed", err)
			onEvent(BrightnessReadFailed{Magnitude: c.Magnitude, Err: err, At: now})
			return
		}
		onEvent(BrightnessRead{Brightness: b, Magnitude: c.Magnitude, At: now})

	case CmdSetBrightness:
		if display == nil {
			onEvent(BrightnessSetFailed{Target: c.Target, Err: errNoActuator{}, At: now})
			return
		}
		if err := display.SetBrightness(c.Target); err != nil {
			logDisplayError(logger, "brightness set failed", err, "target", c.Target, "reason", c.Reason)
			onEvent(BrightnessSetFailed{Target: c.Target, Err: err, At: now})
			return
		}
		// The backends don't echo the written value; we know what we set.
		onEvent(BrightnessApplied{Brightness: c.Target, At: now})

	case CmdArmCountdown:
		if timer == nil {
			onEvent(CountdownFailed{Err: errNoCountdown{}, At: now})
			return
		}
		if err := timer.Arm(c.After, c.Gen); err != nil {
			logger.Error("countdown arm failed", "error", err, "gen", c.Gen, "after", c.After)
			onEvent(CountdownFailed{Err: err, At: now})
		}

	case CmdCancelCountdown:
		if timer == nil {
			return
		}
		if err := timer.Cancel(); err != nil {
			// The episode is already over; a stray expiry will carry a stale gen.
			logger.Warn("countdown cancel failed", "error", err)
		}

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		// This keeps the reducer pure by moving the channel send into the effects layer.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the effects worker indefinitely.
		select {
		case c.Reply <- c.Snapshot:
			// delivered
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String(), "error", errUnknownCommand{cmd: cmd})
	}
}

// logDisplayError logs a missing display at warn and anything else at error.
func logDisplayError(logger *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	if errors.Is(err, errDisplayUnavailable) {
		logger.Warn(msg, args...)
		return
	}
	logger.Error(msg, args...)
}

// errNoActuator indicates the daemon was asked to touch the display without a backend.
type errNoActuator struct{}

func (errNoActuator) Error() string { return "no brightness actuator" }

// Unwrap lets callers treat a missing backend like an unavailable display.
func (errNoActuator) Unwrap() error { return errDisplayUnavailable }

// errNoCountdown indicates the daemon was asked to arm a countdown it doesn't have.
type errNoCountdown struct{}

func (errNoCountdown) Error() string { return "no penalty countdown" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
