package main

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		PenaltyTimeout:  5 * time.Second,
		RestoreTimeout:  10 * time.Second,
		ScrollThreshold: 1000,
	}
}

func scrollAt(dx, dy int64, at time.Time) Event {
	return TimedEvent{Event: ScrollDelta{DX: dx, DY: dy}, At: at}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// penalize drives an Idle state into a penalty episode started from brightness b.
func penalize(t *testing.T, s *DaemonState, cfg ThrottleConfig, b float64, magnitude int64, at time.Time) ReduceResult {
	t.Helper()
	rr := Reduce(s, BrightnessRead{Brightness: b, Magnitude: magnitude, At: at}, cfg)
	if !rr.State.Penalized() {
		t.Fatalf("expected penalized after BrightnessRead")
	}
	return rr
}

func TestReducer_ScrollBelowThreshold_NoCommands(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}

	rr := Reduce(s, scrollAt(0, 3, t0), cfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands, got %v", rr.Commands)
	}
	if rr.State.Scroll.RecentTotal != 4 {
		t.Fatalf("RecentTotal = %d, want 4", rr.State.Scroll.RecentTotal)
	}
	if rr.State.Penalized() {
		t.Fatalf("should still be idle")
	}
}

func TestReducer_ScrollAtThreshold_ReadsBrightness(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.ScrollThreshold = 10
	s := &DaemonState{}

	rr := Reduce(s, scrollAt(0, 9, t0), cfg)
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	cmd, ok := rr.Commands[0].(CmdReadBrightness)
	if !ok {
		t.Fatalf("expected CmdReadBrightness, got %T", rr.Commands[0])
	}
	if cmd.Magnitude != 10 {
		t.Fatalf("Magnitude = %d, want 10", cmd.Magnitude)
	}
	// The episode only starts once the brightness is known.
	if rr.State.Penalized() {
		t.Fatalf("should not be penalized before the read comes back")
	}
}

func TestReducer_BrightnessRead_StartsPenalty(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}

	rr := Reduce(s, BrightnessRead{Brightness: 0.5, Magnitude: 10, At: t0}, cfg)

	if !rr.State.Penalty.Active || rr.State.Penalty.OriginalBrightness != 0.5 {
		t.Fatalf("expected active penalty with original 0.5, got %+v", rr.State.Penalty)
	}
	if !rr.State.Penalty.Deadline.Equal(t0.Add(cfg.PenaltyTimeout)) {
		t.Fatalf("Deadline = %v, want %v", rr.State.Penalty.Deadline, t0.Add(cfg.PenaltyTimeout))
	}

	if len(rr.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %v", rr.Commands)
	}
	arm, ok := rr.Commands[0].(CmdArmCountdown)
	if !ok {
		t.Fatalf("first command should arm the countdown, got %T", rr.Commands[0])
	}
	if arm.Gen != rr.State.Penalty.TimerGen || arm.After != cfg.PenaltyTimeout {
		t.Fatalf("arm = %+v, want gen %d after %s", arm, rr.State.Penalty.TimerGen, cfg.PenaltyTimeout)
	}
	set, ok := rr.Commands[1].(CmdSetBrightness)
	if !ok {
		t.Fatalf("second command should dim, got %T", rr.Commands[1])
	}
	if !approx(set.Target, 0.45) || set.Reason != reasonPenalty {
		t.Fatalf("set = %+v, want 0.45 penalty", set)
	}

	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rr.Broadcasts))
	}
	if _, ok := rr.Broadcasts[0].(BroadcastPenaltyStarted); !ok {
		t.Fatalf("expected BroadcastPenaltyStarted, got %T", rr.Broadcasts[0])
	}
}

func TestReducer_Retrigger_KeepsOriginalAndRearms(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.5, 10, t0)
	firstGen := rr.State.Penalty.TimerGen

	later := t0.Add(2 * time.Second)
	rr = Reduce(rr.State, BrightnessRead{Brightness: 0.45, Magnitude: 10, At: later}, cfg)

	if rr.State.Penalty.OriginalBrightness != 0.5 {
		t.Fatalf("OriginalBrightness = %v, want 0.5 (captured once)", rr.State.Penalty.OriginalBrightness)
	}
	if !rr.State.Penalty.StartedAt.Equal(t0) {
		t.Fatalf("StartedAt moved to %v", rr.State.Penalty.StartedAt)
	}
	if rr.State.Penalty.TimerGen != firstGen+1 {
		t.Fatalf("TimerGen = %d, want %d", rr.State.Penalty.TimerGen, firstGen+1)
	}
	if !rr.State.Penalty.Deadline.Equal(later.Add(cfg.PenaltyTimeout)) {
		t.Fatalf("deadline not fully re-armed: %v", rr.State.Penalty.Deadline)
	}

	set := rr.Commands[1].(CmdSetBrightness)
	// Compounds on the already-dimmed value.
	if !approx(set.Target, 0.405) {
		t.Fatalf("penalty = %v, want 0.405", set.Target)
	}
	ext, ok := rr.Broadcasts[0].(BroadcastPenaltyExtended)
	if !ok || !ext.Dimmed {
		t.Fatalf("expected dimmed BroadcastPenaltyExtended, got %#v", rr.Broadcasts[0])
	}
}

func TestReducer_Expiry_RestoresOriginal(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.7, 20, t0)
	gen := rr.State.Penalty.TimerGen

	rr = Reduce(rr.State, PenaltyExpired{Gen: gen, At: t0.Add(cfg.PenaltyTimeout)}, cfg)

	if rr.State.Penalized() {
		t.Fatalf("expected idle after expiry")
	}
	if len(rr.Commands) != 2 {
		t.Fatalf("expected set + cancel, got %v", rr.Commands)
	}
	set := rr.Commands[0].(CmdSetBrightness)
	if set.Target != 0.7 || set.Reason != reasonExpired {
		t.Fatalf("restore = %+v, want 0.7 expired", set)
	}
	if _, ok := rr.Commands[1].(CmdCancelCountdown); !ok {
		t.Fatalf("expected CmdCancelCountdown, got %T", rr.Commands[1])
	}
	restored, ok := rr.Broadcasts[0].(BroadcastPenaltyRestored)
	if !ok || restored.Brightness != 0.7 || restored.Reason != reasonExpired {
		t.Fatalf("unexpected broadcast %#v", rr.Broadcasts[0])
	}
}

func TestReducer_StaleExpiry_Ignored(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.6, 10, t0)
	staleGen := rr.State.Penalty.TimerGen

	// Re-trigger; the first countdown's expiry is now stale.
	rr = Reduce(rr.State, BrightnessRead{Brightness: 0.54, Magnitude: 10, At: t0.Add(4 * time.Second)}, cfg)

	rr = Reduce(rr.State, PenaltyExpired{Gen: staleGen, At: t0.Add(5 * time.Second)}, cfg)
	if !rr.State.Penalized() {
		t.Fatalf("stale expiry must not end the episode")
	}
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("stale expiry produced %v / %v", rr.Commands, rr.Broadcasts)
	}
}

func TestReducer_ExpiryAfterRestore_Ignored(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.6, 10, t0)
	gen := rr.State.Penalty.TimerGen

	rr = Reduce(rr.State, TimedEvent{Event: RestoreNow{Origin: "test"}, At: t0.Add(time.Second)}, cfg)
	rr = Reduce(rr.State, PenaltyExpired{Gen: gen, At: t0.Add(5 * time.Second)}, cfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("expiry after manual restore produced %v", rr.Commands)
	}
}

func TestReducer_ReadFailedWhileIdle_StaysIdle(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}

	rr := Reduce(s, BrightnessReadFailed{Magnitude: 20, Err: errDisplayUnavailable, At: t0}, cfg)
	if rr.State.Penalized() {
		t.Fatalf("no original brightness, so no episode")
	}
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands, got %v", rr.Commands)
	}
}

func TestReducer_ReadFailedWhilePenalized_RearmsWithoutDimming(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.6, 10, t0)
	gen := rr.State.Penalty.TimerGen

	later := t0.Add(3 * time.Second)
	rr = Reduce(rr.State, BrightnessReadFailed{Magnitude: 20, Err: errors.New("i2c timeout"), At: later}, cfg)

	if len(rr.Commands) != 1 {
		t.Fatalf("expected only a re-arm, got %v", rr.Commands)
	}
	arm, ok := rr.Commands[0].(CmdArmCountdown)
	if !ok || arm.Gen != gen+1 {
		t.Fatalf("expected CmdArmCountdown gen %d, got %#v", gen+1, rr.Commands[0])
	}
	if rr.State.Penalty.OriginalBrightness != 0.6 {
		t.Fatalf("OriginalBrightness changed to %v", rr.State.Penalty.OriginalBrightness)
	}
	if !rr.State.Penalty.Deadline.Equal(later.Add(cfg.PenaltyTimeout)) {
		t.Fatalf("deadline = %v", rr.State.Penalty.Deadline)
	}
	if ext := rr.Broadcasts[0].(BroadcastPenaltyExtended); ext.Dimmed {
		t.Fatalf("extension without a read must not claim to dim")
	}
}

func TestReducer_SetFailed_LeavesStateAlone(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.6, 10, t0)
	before := rr.State.Penalty

	rr = Reduce(rr.State, BrightnessSetFailed{Target: 0.54, Err: errors.New("EACCES"), At: t0}, cfg)
	if rr.State.Penalty != before {
		t.Fatalf("penalty changed: %+v -> %+v", before, rr.State.Penalty)
	}
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands, got %v", rr.Commands)
	}
}

func TestReducer_RestoreNowWhileIdle_NoOp(t *testing.T) {
	cfg := testThrottleConfig()
	rr := Reduce(&DaemonState{}, TimedEvent{Event: RestoreNow{}, At: t0}, cfg)
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no-op, got %v / %v", rr.Commands, rr.Broadcasts)
	}
}

func TestReducer_RestoreNowWhilePenalized(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.9, 10, t0)

	rr = Reduce(rr.State, TimedEvent{Event: RestoreNow{Origin: "ctl"}, At: t0.Add(time.Second)}, cfg)
	if rr.State.Penalized() {
		t.Fatalf("expected idle")
	}
	set := rr.Commands[0].(CmdSetBrightness)
	if set.Target != 0.9 || set.Reason != reasonManual {
		t.Fatalf("restore = %+v", set)
	}
}

func TestReducer_CountdownFailed_ForcesRestore(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.4, 10, t0)

	rr = Reduce(rr.State, CountdownFailed{Err: errCountdownClosed, At: t0}, cfg)
	if rr.State.Penalized() {
		t.Fatalf("expected idle after countdown failure")
	}
	set := rr.Commands[0].(CmdSetBrightness)
	if set.Target != 0.4 || set.Reason != reasonCountdownFailed {
		t.Fatalf("restore = %+v", set)
	}
}

func TestReducer_InterruptWhileIdle(t *testing.T) {
	cfg := testThrottleConfig()
	rr := Reduce(&DaemonState{}, TimedEvent{Event: Interrupt{Signal: "interrupt"}, At: t0}, cfg)

	if !rr.State.ShuttingDown {
		t.Fatalf("expected ShuttingDown")
	}
	if len(rr.Commands) != 2 {
		t.Fatalf("expected cancel + exit, got %v", rr.Commands)
	}
	if _, ok := rr.Commands[0].(CmdCancelCountdown); !ok {
		t.Fatalf("expected CmdCancelCountdown, got %T", rr.Commands[0])
	}
	if _, ok := rr.Commands[1].(CmdExit); !ok {
		t.Fatalf("expected CmdExit, got %T", rr.Commands[1])
	}
}

func TestReducer_InterruptWhilePenalized_RestoresThenExits(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.8, 10, t0)

	rr = Reduce(rr.State, Interrupt{Signal: "terminated"}, cfg)

	if len(rr.Commands) != 3 {
		t.Fatalf("expected set + cancel + exit, got %v", rr.Commands)
	}
	set := rr.Commands[0].(CmdSetBrightness)
	if set.Target != 0.8 || set.Reason != reasonInterrupt {
		t.Fatalf("restore = %+v", set)
	}
	if _, ok := rr.Commands[2].(CmdExit); !ok {
		t.Fatalf("last command should be CmdExit, got %T", rr.Commands[2])
	}
}

func TestReducer_AfterShutdown_OnlySnapshotsAnswered(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.ScrollThreshold = 1
	rr := Reduce(&DaemonState{}, Interrupt{}, cfg)

	rr = Reduce(rr.State, scrollAt(0, 50, t0), cfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("scroll after shutdown produced %v", rr.Commands)
	}
	rr = Reduce(rr.State, BrightnessRead{Brightness: 0.5, Magnitude: 51, At: t0}, cfg)
	if rr.State.Penalized() || len(rr.Commands) != 0 {
		t.Fatalf("read after shutdown started a penalty")
	}

	reply := make(chan StateSnapshot, 1)
	rr = Reduce(rr.State, RequestStateSnapshot{Reply: reply}, cfg)
	if len(rr.Commands) != 1 {
		t.Fatalf("snapshot request not answered: %v", rr.Commands)
	}
	if _, ok := rr.Commands[0].(CmdPublishStateSnapshot); !ok {
		t.Fatalf("expected CmdPublishStateSnapshot, got %T", rr.Commands[0])
	}
}

func TestReducer_ResetSessionOnRestore(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.ResetSessionOnRestore = true
	s := &DaemonState{}
	s.Scroll.Ingest(0, 1200, t0, cfg)
	rr := penalize(t, s, cfg, 0.5, 10, t0)

	rr = Reduce(rr.State, PenaltyExpired{Gen: rr.State.Penalty.TimerGen, At: t0.Add(5 * time.Second)}, cfg)
	if rr.State.Scroll.RecentTotal != 0 {
		t.Fatalf("RecentTotal = %d, want 0 after restore", rr.State.Scroll.RecentTotal)
	}

	// Default keeps the session.
	cfg.ResetSessionOnRestore = false
	s = &DaemonState{}
	s.Scroll.Ingest(0, 1200, t0, cfg)
	rr = penalize(t, s, cfg, 0.5, 10, t0)
	rr = Reduce(rr.State, PenaltyExpired{Gen: rr.State.Penalty.TimerGen, At: t0.Add(5 * time.Second)}, cfg)
	if rr.State.Scroll.RecentTotal != 1201 {
		t.Fatalf("RecentTotal = %d, want 1201", rr.State.Scroll.RecentTotal)
	}
}

func TestReducer_Snapshot(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	rr := penalize(t, s, cfg, 0.5, 10, t0)
	rr = Reduce(rr.State, BrightnessApplied{Brightness: 0.45, At: t0}, cfg)

	reply := make(chan StateSnapshot, 1)
	rr = Reduce(rr.State, RequestStateSnapshot{Reply: reply}, cfg)
	snap := rr.Commands[0].(CmdPublishStateSnapshot).Snapshot

	if !snap.Penalized || snap.OriginalBrightness != 0.5 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.BrightnessKnown || snap.Brightness != 0.45 {
		t.Fatalf("snapshot brightness = %v known=%v", snap.Brightness, snap.BrightnessKnown)
	}
	if !snap.PenaltyDeadline.Equal(t0.Add(cfg.PenaltyTimeout)) {
		t.Fatalf("snapshot deadline = %v", snap.PenaltyDeadline)
	}
}

// TestReducer_TenScrollsOf110 walks the full loop by hand: ten scrolls of
// magnitude 110 inside one session cross the 1000 threshold on the tenth, and
// the first penalty from 0.8 goes fully dark.
func TestReducer_TenScrollsOf110(t *testing.T) {
	cfg := testThrottleConfig()
	s := &DaemonState{}
	display := &fakeDisplay{brightness: 0.8}

	var rr ReduceResult
	for i := 0; i < 10; i++ {
		at := t0.Add(time.Duration(i) * 200 * time.Millisecond)
		rr = Reduce(s, scrollAt(0, 109, at), cfg)
		s = rr.State

		if i < 9 && len(rr.Commands) != 0 {
			t.Fatalf("scroll %d triggered early (total %d)", i+1, s.Scroll.RecentTotal)
		}
	}
	if s.Scroll.RecentTotal != 1100 {
		t.Fatalf("RecentTotal = %d, want 1100", s.Scroll.RecentTotal)
	}
	read, ok := rr.Commands[0].(CmdReadBrightness)
	if !ok {
		t.Fatalf("tenth scroll should read brightness, got %v", rr.Commands)
	}

	b, _ := display.Brightness()
	rr = Reduce(s, BrightnessRead{Brightness: b, Magnitude: read.Magnitude, At: t0.Add(2 * time.Second)}, cfg)
	for _, c := range rr.Commands {
		if set, ok := c.(CmdSetBrightness); ok {
			_ = display.SetBrightness(set.Target)
		}
	}

	if display.brightness != 0.0 {
		t.Fatalf("display = %v, want 0.0", display.brightness)
	}
	if rr.State.Penalty.OriginalBrightness != 0.8 {
		t.Fatalf("OriginalBrightness = %v, want 0.8", rr.State.Penalty.OriginalBrightness)
	}

	rr = Reduce(rr.State, PenaltyExpired{Gen: rr.State.Penalty.TimerGen, At: t0.Add(7 * time.Second)}, cfg)
	for _, c := range rr.Commands {
		if set, ok := c.(CmdSetBrightness); ok {
			_ = display.SetBrightness(set.Target)
		}
	}
	if display.brightness != 0.8 {
		t.Fatalf("display after expiry = %v, want 0.8", display.brightness)
	}
}
