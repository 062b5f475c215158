// Package timecontrol implements the logical clock (C7): a mockable
// monotonic source of block timestamps, independently steerable from wall
// clock time via admin calls.
package timecontrol

import (
	"sync"

	"github.com/benbjohnson/clock"
)

// Clock is the C7 logical clock. Block timestamps are read from it at seal
// time; it never runs backward on its own, only via an explicit SetTime
// call to an earlier value (the spec permits "past or future" for
// set_time).
type Clock struct {
	mu      sync.Mutex
	backing clock.Clock
	current uint64 // unix seconds
}

// New returns a Clock seeded at start (unix seconds). Passing 0 seeds it at
// wall-clock time-of-boot, matching the spec's default.
func New(start uint64) *Clock {
	c := &Clock{backing: clock.New()}
	if start == 0 {
		c.current = uint64(c.backing.Now().Unix())
	} else {
		c.current = start
	}
	return c
}

// NewWithBacking lets tests supply a clock.Mock instead of the real clock.
func NewWithBacking(backing clock.Clock, start uint64) *Clock {
	return &Clock{backing: backing, current: start}
}

// Now returns the current logical time in unix seconds.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetTime forces the clock to t, past or future. Returns the prior value.
func (c *Clock) SetTime(t uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current
	c.current = t
	return prev
}

// IncreaseTime adds delta seconds and returns the new value.
func (c *Clock) IncreaseTime(delta uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current += delta
	return c.current
}
