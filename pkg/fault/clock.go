package fault

import (
	"sync"
	"time"
)

// Clock supplies monotonic millisecond timestamps. No component in this
// package reads a wall-clock API directly; every timestamp stored or
// compared is obtained through an injected Clock, which is what makes the
// test suite deterministic.
type Clock interface {
	// NowMillis returns the current time in milliseconds, as a
	// non-negative integer.
	NowMillis() int64
}

// SystemClock reads the monotonic time source from the Go runtime.
type SystemClock struct{}

// systemClockBase anchors SystemClock readings; time.Since measures
// from it on the runtime's monotonic clock.
var systemClockBase = time.Now()

// NowMillis returns the milliseconds elapsed on the monotonic clock
// since the package was initialized.
func (SystemClock) NowMillis() int64 {
	return time.Since(systemClockBase).Milliseconds()
}

// TestClock is a mutable clock for deterministic tests. Values need not
// be monotonic across Set calls; that is intentional, since it is how
// clock skew and drift are modeled in tests.
type TestClock struct {
	mu  sync.Mutex
	now int64
}

// NewTestClock returns a TestClock starting at startMillis.
func NewTestClock(startMillis int64) *TestClock {
	return &TestClock{now: startMillis}
}

// NowMillis returns the clock's current value.
func (c *TestClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute time, which may be before or after
// its current value.
func (c *TestClock) Set(millis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = millis
}

// Advance moves the clock forward (or backward, for a negative delta)
// by delta milliseconds.
func (c *TestClock) Advance(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += delta
}

// durationFromMs converts a FaultConfiguration *_ms field to a
// time.Duration for use with the standard library's timers.
func durationFromMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
