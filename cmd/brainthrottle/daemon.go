package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven "Daemon Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The daemon loop is the only place that executes side effects (display
//     brightness, penalty countdown).
//   - Effect results are turned into Events and fed back into the reducer
//     before the next inbound event is taken, so a brightness read and the
//     penalty computed from it are never split by another event.
//   - Explicit event and command queues; no nested/re-entrant execution.
//
// ============================================================================

// daemonDeps are the side-effect endpoints the daemon loop drives.
type daemonDeps struct {
	Display    BrightnessActuator
	Countdown  Countdown
	Broadcasts chan<- StateBroadcast // optional; dropped when full
}

// runDaemon is the main daemon loop that:
//   - Receives Events from multiple sources (input, IPC, countdown, signals)
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Returns after executing CmdExit (emitted by the reducer for Interrupt)
//   - On ctx cancel or a closed events channel, an Interrupt is reduced first
//     so the display is never left dimmed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	deps daemonDeps,
	cfg ThrottleConfig,
	state *DaemonState,
	logger *slog.Logger,
) {
	// Guard: reducer-driven daemon expects a state container.
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command
	exiting := false

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			if cr, ok := ev.(ConfigReloaded); ok {
				cfg = cr.Throttle
				logger.Info("throttle config reloaded",
					"penalty_timeout", cfg.PenaltyTimeout,
					"restore_timeout", cfg.RestoreTimeout,
					"scroll_threshold", cfg.ScrollThreshold,
					"reset_session_on_restore", cfg.ResetSessionOnRestore)
				continue
			}

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			enqueueCommands(rr.Commands)
			publishBroadcasts(rr.Broadcasts, deps.Broadcasts, logger)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			logger.Debug("executing command", "command", cmd.String())

			if _, ok := cmd.(CmdExit); ok {
				exiting = true
				continue
			}

			runEffect(deps.Display, deps.Countdown, cmd, logger, func(obs Event) {
				enqueueEvent(obs)
			})

			// Observations should be reduced promptly to keep state coherent and
			// allow the reducer to emit follow-up commands (if any).
			flushEvents()
		}
	}

	step := func(ev Event) {
		enqueueEvent(stampEvent(ev, time.Now()))
		flushEvents()
		flushCommands()
	}

	// Main loop
	for !exiting {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			step(Interrupt{Signal: "context"})
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				step(Interrupt{Signal: "eof"})
				return
			}
			step(ev)
		}
	}

	logger.Info("daemon stopped")
}

// stampEvent wraps payload events (those produced outside the daemon) in a
// TimedEvent. Observation and control events already carry what they need.
func stampEvent(ev Event, now time.Time) Event {
	switch ev.(type) {
	case ScrollDelta, RestoreNow, Interrupt:
		return TimedEvent{Event: ev, At: now}
	default:
		return ev
	}
}

// publishBroadcasts logs reducer broadcasts and forwards them to the state
// feed without ever blocking the loop.
func publishBroadcasts(bcs []StateBroadcast, out chan<- StateBroadcast, logger *slog.Logger) {
	for _, b := range bcs {
		logBroadcast(logger, b)
		if out == nil {
			continue
		}
		select {
		case out <- b:
		default:
			logger.Warn("state broadcast queue full; dropping", "type", broadcastType(b))
		}
	}
}

func logBroadcast(logger *slog.Logger, b StateBroadcast) {
	switch v := b.(type) {
	case BroadcastPenaltyStarted:
		logger.Info("skimming detected, dimming display",
			"at", v.At.Format(time.RFC3339),
			"original_brightness", v.OriginalBrightness,
			"brightness", v.Penalty,
			"recent_total", v.RecentTotal,
			"magnitude", v.Magnitude,
			"deadline", v.Deadline.Format(time.RFC3339))
	case BroadcastPenaltyExtended:
		logger.Info("still skimming, penalty extended",
			"brightness", v.Penalty,
			"dimmed", v.Dimmed,
			"recent_total", v.RecentTotal,
			"magnitude", v.Magnitude,
			"deadline", v.Deadline.Format(time.RFC3339))
	case BroadcastPenaltyRestored:
		logger.Info("brightness restored", "brightness", v.Brightness, "reason", v.Reason)
	case BroadcastBrightnessChanged:
		logger.Debug("brightness applied", "brightness", v.Brightness)
	}
}
