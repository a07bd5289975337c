// Package clock provides the time source behind decision-cache windowing,
// swappable so tests can pin and step time deterministically.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// FixtureClock is a frozen clock that only moves when told to.
type FixtureClock struct {
	now time.Time
}

// NewFixtureClock returns a clock pinned at start, or at the wall-clock
// time when start is the zero time.
func NewFixtureClock(start time.Time) *FixtureClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &FixtureClock{now: start}
}

func (c *FixtureClock) Now() time.Time {
	return c.now
}

// Set pins the clock at t.
func (c *FixtureClock) Set(t time.Time) {
	c.now = t
}

// Advance steps the clock by d. A negative d steps it backward.
func (c *FixtureClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
