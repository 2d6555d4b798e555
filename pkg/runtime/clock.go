package runtime

import (
	"errors"
	"sync"
	"time"
)

// ErrClockUnavailable is returned when no trusted timestamp source is
// reachable. Requests that need a timestamp abort with no state change.
var ErrClockUnavailable = errors.New("trusted clock unavailable")

// Clock is the trusted timestamp source for the runtime. Timestamps
// must be monotonically non-decreasing; the core never trusts
// caller-supplied time.
type Clock interface {
	// Now returns the current Unix time in seconds.
	Now() (int64, error)
}

// SystemClock wraps the wall clock and clamps it to be non-decreasing,
// so a backwards step of the host clock can never produce a timestamp
// earlier than one already handed out.
type SystemClock struct {
	mu   sync.Mutex
	last int64
}

// NewSystemClock creates a system-backed clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current Unix time, never less than a previously
// returned value.
func (c *SystemClock) Now() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := time.Now().Unix()
	if t < c.last {
		t = c.last
	}
	c.last = t
	return t, nil
}

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu   sync.Mutex
	time int64
	err  error
}

// NewManualClock creates a manual clock starting at the given Unix time.
func NewManualClock(unix int64) *ManualClock {
	return &ManualClock{time: unix}
}

// Now returns the configured time or the configured error.
func (c *ManualClock) Now() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.time, nil
}

// Set moves the clock to the given Unix time.
func (c *ManualClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = unix
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time += seconds
}

// Fail makes subsequent Now calls return err. Pass nil to recover.
func (c *ManualClock) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}
