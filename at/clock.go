package at

import (
	"sync"
	"time"
)

// Clock is the time source for every wait loop in the parser and the
// driver built on top of it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host's monotonic clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock only moves when Advance is called. Pairing it with a yield
// hook that advances it lets timeouts elapse without real delays.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
