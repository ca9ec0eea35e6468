package rtc

import "time"

// RawClock is the secondary time base used to measure the tick source.
type RawClock interface {
	// Now returns a monotonic reading unaffected by clock slewing.
	Now() time.Duration
}

// RawClockFunc adapts a function to RawClock.
type RawClockFunc func() time.Duration

// Now calls f.
func (f RawClockFunc) Now() time.Duration { return f() }
