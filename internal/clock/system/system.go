// Package system provides the wall clock used by the host.
package system

import "time"

// Clock reports UTC time at millisecond resolution, matching envelope
// timestamps so receipt times compare cleanly against frame times.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to the millisecond.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NowMillis returns Now as Unix milliseconds.
func (c Clock) NowMillis() int64 {
	return c.Now().UnixMilli()
}
