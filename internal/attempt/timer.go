package attempt

import "time"

// Countdown is the remaining-time state machine of an attempt.
// It has no goroutine of its own: the owning Attempt feeds it ticks while holding
// its lock, so a stopped Countdown never observes another tick.
type Countdown struct {
	remaining int
	running   bool
}

// NewCountdown returns a stopped countdown holding seconds (floored at 0).
func NewCountdown(seconds int) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{remaining: seconds}
}

// Start arms the countdown. It refuses to run with nothing left.
func (c *Countdown) Start() bool {
	if c.remaining == 0 {
		c.running = false
		return false
	}
	c.running = true
	return true
}

// Tick removes one second. expired is true only on the tick that reaches zero,
// after which the countdown stops itself. Ticks on a stopped countdown are ignored.
func (c *Countdown) Tick() (remaining int, expired bool) {
	if !c.running {
		return c.remaining, false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining == 0 {
		c.running = false
		return 0, true
	}
	return c.remaining, false
}

// Stop halts the countdown. Safe to call repeatedly.
func (c *Countdown) Stop() {
	c.running = false
}

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) Running() bool { return c.running }

// TickerFunc starts a periodic tick source and returns its channel and stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// SystemTicker is the TickerFunc backed by time.Ticker.
func SystemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
