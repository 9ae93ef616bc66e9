package testfixtures

import (
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/mess-attendance/internal/clock"
)

// Clock is a settable clock.Clock for tests. Calendar helpers use Zone.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

var _ clock.Clock = (*Clock)(nil)

// NewClock starts at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// SetAt moves the clock to hh:mm on date and returns the new instant.
func (c *Clock) SetAt(date civil.Date, hour, minute int) time.Time {
	t := At(date, hour, minute)
	c.Set(t)
	return t
}

// Advance moves the clock forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Today is the calendar date of the clock in Zone.
func (c *Clock) Today() civil.Date {
	return clock.Today(c, Zone)
}
