package session

import (
	"sync"
	"time"
)

// Clock drives one session's wall-clock authority: a fixed deadline plus a
// periodic tick. Every tick (and the deadline itself) is delivered to onTick;
// the machine's heartbeat decides what the time means. The deadline never
// moves after construction.
type Clock struct {
	deadline time.Time
	tick     time.Duration
	onTick   func(now time.Time)

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewClock creates a stopped clock. Call Start to begin ticking.
func NewClock(deadline time.Time, tick time.Duration, onTick func(now time.Time)) *Clock {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Clock{
		deadline: deadline,
		tick:     tick,
		onTick:   onTick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine.
func (c *Clock) Start() {
	c.started = true
	go c.run()
}

func (c *Clock) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	// Fire exactly at the deadline even if it falls between ticks.
	expire := time.NewTimer(time.Until(c.deadline))
	defer expire.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.onTick(now)
		case <-expire.C:
			c.onTick(time.Now())
			// The deadline tick is final; the machine has transitioned or will
			// on the next explicit heartbeat.
			return
		}
	}
}

// Stop halts the loop and waits for it to exit. Safe to call more than once.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started {
		<-c.done
	}
}

// Deadline returns the immutable expiry instant.
func (c *Clock) Deadline() time.Time { return c.deadline }

// Remaining returns time left until the deadline, floored at zero.
func (c *Clock) Remaining(now time.Time) time.Duration {
	if d := c.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
