package main

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Countdown is the single-slot penalty timer used by the effects stage.
// Re-arming replaces any pending expiry; it never stacks timers.
type Countdown interface {
	Arm(d time.Duration, gen uint64) error
	Cancel() error
}

var errCountdownClosed = errors.New("countdown closed")

// countdown delivers PenaltyExpired{Gen} into the daemon's event channel.
//
// Expiry runs on a timer goroutine, so it only ever posts an event; all state
// changes happen when the daemon reduces it. An expiry that was already in
// flight when the countdown was re-armed still arrives, but with the old
// generation, and the reducer drops it.
type countdown struct {
	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	closed bool

	out  chan<- Event
	done <-chan struct{}
}

// newCountdown creates a countdown posting into out. Pending sends are
// abandoned once done is closed so a stopped daemon never strands a goroutine.
func newCountdown(out chan<- Event, done <-chan struct{}) *countdown {
	return &countdown{out: out, done: done}
}

// Arm (re)starts the countdown for d, tagging the expiry with gen.
func (c *countdown) Arm(d time.Duration, gen uint64) error {
	if d <= 0 {
		return fmt.Errorf("arm countdown: non-positive duration %s", d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errCountdownClosed
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen = gen
	c.timer = time.AfterFunc(d, func() { c.fire(gen) })
	return nil
}

// Cancel disarms the countdown. Cancelling an idle countdown is a no-op.
func (c *countdown) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return nil
}

// Armed reports whether an expiry is pending.
func (c *countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Close disarms the countdown and rejects further Arm calls.
func (c *countdown) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *countdown) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	select {
	case c.out <- PenaltyExpired{Gen: gen, At: time.Now()}:
	case <-c.done:
	}
}
