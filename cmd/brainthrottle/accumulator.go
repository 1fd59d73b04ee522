package main

import (
	"math"
	"time"
)

// ThrottleConfig contains all tunable parameters for skim detection and the
// brightness penalty.
type ThrottleConfig struct {
	PenaltyTimeout  time.Duration // How long a penalty lasts after the last triggering scroll
	RestoreTimeout  time.Duration // Scroll silence after which the session total starts over
	ScrollThreshold int64         // Session total at or above which scrolling counts as skimming

	// ResetSessionOnRestore clears the accumulator when a penalty episode ends,
	// so continued scrolling has to cross the threshold again from zero.
	ResetSessionOnRestore bool
}

// defaultThrottleConfig returns the stock tunables.
func defaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		PenaltyTimeout:  defaultPenaltyTimeoutSec * time.Second,
		RestoreTimeout:  defaultRestoreTimeoutSec * time.Second,
		ScrollThreshold: defaultScrollThreshold,
	}
}

// ScrollAccumulator turns a stream of scroll deltas into a skim signal.
//
// Decay is event driven: the total is only reset by the first event after a
// gap longer than RestoreTimeout, never by wall-clock polling. An isolated
// event after a long idle period therefore starts a new session instead of
// landing on a stale total.
//
// This is reducer-owned state; it is only mutated by the daemon goroutine.
type ScrollAccumulator struct {
	RecentTotal int64
	LastEventAt time.Time
}

// scrollMagnitude is 1 + |dx| + |dy|, saturating at math.MaxInt64. The
// constant term makes an event with two zero deltas still count as activity.
func scrollMagnitude(dx, dy int64) int64 {
	return addSat(addSat(1, abs64(dx)), abs64(dy))
}

// Ingest records one scroll event observed at now and reports its magnitude
// and whether the session total has reached the threshold.
func (a *ScrollAccumulator) Ingest(dx, dy int64, now time.Time, cfg ThrottleConfig) (magnitude int64, exceeded bool) {
	magnitude = scrollMagnitude(dx, dy)

	if a.LastEventAt.IsZero() || now.Sub(a.LastEventAt) > cfg.RestoreTimeout {
		a.RecentTotal = magnitude
	} else {
		a.RecentTotal = addSat(a.RecentTotal, magnitude)
	}
	a.LastEventAt = now

	return magnitude, a.RecentTotal >= cfg.ScrollThreshold
}

// Reset forgets the current session.
func (a *ScrollAccumulator) Reset() {
	a.RecentTotal = 0
	a.LastEventAt = time.Time{}
}

// abs64 maps math.MinInt64 to math.MaxInt64.
func abs64(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}

// addSat adds two non-negative values, clamping at math.MaxInt64.
func addSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
