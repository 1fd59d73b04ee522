package main

import (
	"time"
)

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (scroll actions, countdown expiries,
//     brightness observations, failures, interrupts)
//   - Commands: side effects requested by the reducer (brightness and countdown)
//   - Broadcasts: state changes worth telling external observers about
//   - Reduce(): computes next state + commands, without performing I/O
//
// The daemon loop is responsible for executing Commands and feeding
// observations back as Events.

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent wraps a payload event with the time it entered the daemon loop.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// PenaltyExpired is delivered by the countdown when it fires.
type PenaltyExpired struct {
	Gen uint64
	At  time.Time
}

func (PenaltyExpired) eventMarker() {}

// BrightnessRead is emitted after a successful CmdReadBrightness.
type BrightnessRead struct {
	Brightness float64
	Magnitude  int64
	At         time.Time
}

func (BrightnessRead) eventMarker() {}

// BrightnessReadFailed is emitted when CmdReadBrightness could not get a value.
type BrightnessReadFailed struct {
	Magnitude int64
	Err       error
	At        time.Time
}

func (BrightnessReadFailed) eventMarker() {}

// BrightnessApplied is emitted after a successful CmdSetBrightness.
type BrightnessApplied struct {
	Brightness float64
	At         time.Time
}

func (BrightnessApplied) eventMarker() {}

// BrightnessSetFailed is emitted when CmdSetBrightness failed.
type BrightnessSetFailed struct {
	Target float64
	Err    error
	At     time.Time
}

func (BrightnessSetFailed) eventMarker() {}

// CountdownFailed is emitted when arming or cancelling the countdown failed.
type CountdownFailed struct {
	Err error
	At  time.Time
}

func (CountdownFailed) eventMarker() {}

// RequestStateSnapshot asks the daemon for a copy of its state.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ConfigReloaded carries new tunables from the config watcher. The daemon
// loop swaps its config on this event; the reducer ignores it.
type ConfigReloaded struct {
	Throttle ThrottleConfig
}

func (ConfigReloaded) eventMarker() {}

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is a reducer-emitted notification for external observers
// (logs, WebSocket clients). Broadcasts never feed back into the reducer.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastPenaltyStarted is emitted on the Idle -> Penalized transition.
type BroadcastPenaltyStarted struct {
	OriginalBrightness float64
	Penalty            float64
	RecentTotal        int64
	Magnitude          int64
	Deadline           time.Time
	At                 time.Time
}

func (BroadcastPenaltyStarted) broadcastMarker() {}

// BroadcastPenaltyExtended is emitted when a penalty is re-triggered.
// Dimmed is false when the brightness could not be read for this trigger.
type BroadcastPenaltyExtended struct {
	Penalty     float64
	Dimmed      bool
	RecentTotal int64
	Magnitude   int64
	Deadline    time.Time
	At          time.Time
}

func (BroadcastPenaltyExtended) broadcastMarker() {}

// BroadcastPenaltyRestored is emitted when an episode ends for any reason.
type BroadcastPenaltyRestored struct {
	Brightness float64
	Reason     string
	At         time.Time
}

func (BroadcastPenaltyRestored) broadcastMarker() {}

// BroadcastBrightnessChanged is emitted after the backend confirmed a write.
type BroadcastBrightnessChanged struct {
	Brightness float64
	At         time.Time
}

func (BroadcastBrightnessChanged) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state plus Commands to execute
// and Broadcasts to publish.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Restore reasons, also used as CmdSetBrightness reasons.
const (
	reasonPenalty         = "penalty"
	reasonExpired         = "expired"
	reasonInterrupt       = "interrupt"
	reasonManual          = "manual"
	reasonCountdownFailed = "countdown_failed"
)

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
//
// The daemon loop must:
// - execute Commands
// - translate responses into Events
// - feed those Events back into Reduce()
func Reduce(s *DaemonState, e Event, cfg ThrottleConfig) ReduceResult {
	if s == nil {
		s = &DaemonState{}
	}

	var (
		cmds []Command
		bcs  []StateBroadcast
	)

	// After an interrupt only snapshot requests are still answered.
	if s.ShuttingDown {
		if req, ok := e.(RequestStateSnapshot); ok {
			cmds = append(cmds, CmdPublishStateSnapshot{Reply: req.Reply, Snapshot: s.Snapshot()})
		}
		return ReduceResult{State: s, Commands: cmds}
	}

	switch ev := e.(type) {
	case TimedEvent:
		now := ev.At
		if now.IsZero() {
			now = time.Now()
		}

		switch a := ev.Event.(type) {
		case ScrollDelta:
			magnitude, exceeded := s.Scroll.Ingest(a.DX, a.DY, now, cfg)
			if exceeded {
				// Penalty is computed once the fresh brightness comes back.
				cmds = append(cmds, CmdReadBrightness{Magnitude: magnitude})
			}

		case RestoreNow:
			c, b := s.restore(reasonManual, now, cfg)
			cmds = append(cmds, c...)
			bcs = append(bcs, b...)

		case Interrupt:
			c, b := s.shutdown(now, cfg)
			cmds = append(cmds, c...)
			bcs = append(bcs, b...)

		default:
			// no-op
		}

	case Interrupt:
		c, b := s.shutdown(time.Now(), cfg)
		cmds = append(cmds, c...)
		bcs = append(bcs, b...)

	case BrightnessRead:
		s.SetObservedBrightness(ev.Brightness, ev.At)

		started := false
		if !s.Penalty.Active {
			s.beginPenalty(ev.Brightness, ev.At)
			started = true
		}
		gen := s.rearmPenalty(ev.At, cfg.PenaltyTimeout)
		penalty := computePenalty(ev.Brightness, ev.Magnitude)

		// Arm before dimming: a failed write must not leave the episode without a countdown.
		cmds = append(cmds,
			CmdArmCountdown{Gen: gen, After: cfg.PenaltyTimeout},
			CmdSetBrightness{Target: penalty, Reason: reasonPenalty},
		)

		if started {
			bcs = append(bcs, BroadcastPenaltyStarted{
				OriginalBrightness: s.Penalty.OriginalBrightness,
				Penalty:            penalty,
				RecentTotal:        s.Scroll.RecentTotal,
				Magnitude:          ev.Magnitude,
				Deadline:           s.Penalty.Deadline,
				At:                 ev.At,
			})
		} else {
			bcs = append(bcs, BroadcastPenaltyExtended{
				Penalty:     penalty,
				Dimmed:      true,
				RecentTotal: s.Scroll.RecentTotal,
				Magnitude:   ev.Magnitude,
				Deadline:    s.Penalty.Deadline,
				At:          ev.At,
			})
		}

	case BrightnessReadFailed:
		// Idle: nothing to capture as original, so no episode starts.
		// Penalized: keep the state machine moving without dimming.
		if s.Penalty.Active {
			gen := s.rearmPenalty(ev.At, cfg.PenaltyTimeout)
			cmds = append(cmds, CmdArmCountdown{Gen: gen, After: cfg.PenaltyTimeout})
			bcs = append(bcs, BroadcastPenaltyExtended{
				RecentTotal: s.Scroll.RecentTotal,
				Magnitude:   ev.Magnitude,
				Deadline:    s.Penalty.Deadline,
				At:          ev.At,
			})
		}

	case BrightnessApplied:
		s.SetObservedBrightness(ev.Brightness, ev.At)
		bcs = append(bcs, BroadcastBrightnessChanged{Brightness: ev.Brightness, At: ev.At})

	case BrightnessSetFailed:
		// Best effort; the episode and countdown are unaffected.

	case PenaltyExpired:
		if !s.Penalty.Active || ev.Gen != s.Penalty.TimerGen {
			// Stale expiry that lost a race with a re-arm (or a manual restore).
			break
		}
		c, b := s.restore(reasonExpired, ev.At, cfg)
		cmds = append(cmds, c...)
		bcs = append(bcs, b...)

	case CountdownFailed:
		// Without a working countdown nothing would ever undo the dim.
		c, b := s.restore(reasonCountdownFailed, ev.At, cfg)
		cmds = append(cmds, c...)
		bcs = append(bcs, b...)

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcs,
	}
}

// restore ends the active episode, if any, and returns the commands that put
// the original brightness back.
func (s *DaemonState) restore(reason string, now time.Time, cfg ThrottleConfig) ([]Command, []StateBroadcast) {
	original, ok := s.endPenalty()
	if !ok {
		return nil, nil
	}
	if cfg.ResetSessionOnRestore {
		s.Scroll.Reset()
	}
	cmds := []Command{
		CmdSetBrightness{Target: original, Reason: reason},
		CmdCancelCountdown{},
	}
	bcs := []StateBroadcast{BroadcastPenaltyRestored{Brightness: original, Reason: reason, At: now}}
	return cmds, bcs
}

// shutdown restores (when penalized), disarms the countdown and stops the loop.
func (s *DaemonState) shutdown(now time.Time, cfg ThrottleConfig) ([]Command, []StateBroadcast) {
	cmds, bcs := s.restore(reasonInterrupt, now, cfg)
	s.ShuttingDown = true
	if len(cmds) == 0 {
		cmds = append(cmds, CmdCancelCountdown{})
	}
	cmds = append(cmds, CmdExit{})
	return cmds, bcs
}
