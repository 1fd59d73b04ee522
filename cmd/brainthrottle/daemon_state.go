package main

import "time"

// DaemonState is the top-level, daemon-owned state container.
//
// Goals:
//   - Keep all reducer-owned state in one place (pure reducer, no globals).
//   - Keep what the display last reported separate from the penalty episode,
//     so a snapshot can show both without re-querying the backend.
type DaemonState struct {
	// Scroll is the skim detector's rolling session total.
	Scroll ScrollAccumulator

	// Penalty is the current penalty episode. Zero value means Idle.
	Penalty PenaltyEpisode

	// Display is the cached view of the brightness backend.
	Display DisplayState

	// ShuttingDown is set once an Interrupt has been reduced. Any event that
	// arrives after it is ignored.
	ShuttingDown bool
}

// PenaltyEpisode is the state of one continuous dimming interval.
//
// OriginalBrightness is captured once, on the Idle -> Penalized transition,
// and is only read again when the episode ends.
type PenaltyEpisode struct {
	Active             bool
	OriginalBrightness float64
	StartedAt          time.Time

	// Deadline is when the armed countdown fires if nothing re-triggers it.
	Deadline time.Time

	// TimerGen identifies the countdown currently armed for this episode.
	// Expiries carrying any other generation are stale and ignored.
	TimerGen uint64
}

// DisplayState is the daemon's cached view of the brightness backend.
//
// This is "observed" state: it is updated when a read or write succeeds.
type DisplayState struct {
	Brightness float64
	Known      bool
	At         time.Time
}

// Penalized reports whether a penalty episode is in effect.
func (s *DaemonState) Penalized() bool {
	return s.Penalty.Active
}

// beginPenalty starts a new episode, capturing the brightness to restore later.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) beginPenalty(original float64, now time.Time) {
	s.Penalty = PenaltyEpisode{
		Active:             true,
		OriginalBrightness: original,
		StartedAt:          now,
		TimerGen:           s.Penalty.TimerGen,
	}
}

// rearmPenalty bumps the countdown generation and moves the deadline to a
// full timeout from now. It returns the new generation.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) rearmPenalty(now time.Time, timeout time.Duration) uint64 {
	s.Penalty.TimerGen++
	s.Penalty.Deadline = now.Add(timeout)
	return s.Penalty.TimerGen
}

// endPenalty clears the episode and returns the brightness to restore.
// The generation counter survives so late expiries stay recognisably stale.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) endPenalty() (original float64, wasActive bool) {
	if !s.Penalty.Active {
		return 0, false
	}
	original = s.Penalty.OriginalBrightness
	s.Penalty = PenaltyEpisode{TimerGen: s.Penalty.TimerGen + 1}
	return original, true
}

// SetObservedBrightness updates the cached display brightness.
// This is intended to be called only by the daemon goroutine (single-owner),
// after successful Brightness/SetBrightness results.
func (s *DaemonState) SetObservedBrightness(b float64, now time.Time) {
	s.Display.Brightness = b
	s.Display.Known = true
	s.Display.At = now
}

// StateSnapshot is a read-only copy of DaemonState for other goroutines
// (IPC status requests, WebSocket state_init).
type StateSnapshot struct {
	Penalized          bool      `json:"penalized"`
	OriginalBrightness float64   `json:"original_brightness,omitempty"`
	PenaltyStartedAt   time.Time `json:"penalty_started_at,omitempty"`
	PenaltyDeadline    time.Time `json:"penalty_deadline,omitempty"`

	Brightness      float64   `json:"brightness"`
	BrightnessKnown bool      `json:"brightness_known"`
	BrightnessAt    time.Time `json:"brightness_at,omitempty"`

	RecentTotal  int64     `json:"recent_total"`
	LastScrollAt time.Time `json:"last_scroll_at,omitempty"`
}

// Snapshot copies the externally interesting parts of the state.
func (s *DaemonState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Penalized:       s.Penalty.Active,
		Brightness:      s.Display.Brightness,
		BrightnessKnown: s.Display.Known,
		BrightnessAt:    s.Display.At,
		RecentTotal:     s.Scroll.RecentTotal,
		LastScrollAt:    s.Scroll.LastEventAt,
	}
	if s.Penalty.Active {
		snap.OriginalBrightness = s.Penalty.OriginalBrightness
		snap.PenaltyStartedAt = s.Penalty.StartedAt
		snap.PenaltyDeadline = s.Penalty.Deadline
	}
	return snap
}
