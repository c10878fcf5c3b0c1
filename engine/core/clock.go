package core

import "time"

// Clock measures the run loop's frame-to-frame time. Update snapshots the
// elapsed duration once per frame so every reader within the frame sees the
// same instant.
type Clock struct {
	startTime time.Time
	elapsed   time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Start begins measuring and resets the elapsed time.
func (c *Clock) Start() {
	c.startTime = time.Now()
	c.elapsed = 0
}

// Update refreshes the elapsed snapshot. A clock that was never started does
// not advance.
func (c *Clock) Update() {
	if !c.startTime.IsZero() {
		c.elapsed = time.Since(c.startTime)
	}
}

// Stop halts the clock, keeping the last snapshot.
func (c *Clock) Stop() {
	c.startTime = time.Time{}
}

// Elapsed returns the duration measured at the last Update.
func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}
