//go:build !linux

package rtc

import "time"

// NewRawClock returns the Go monotonic clock; CLOCK_MONOTONIC_RAW is Linux only.
func NewRawClock() RawClock {
	base := time.Now()
	return RawClockFunc(func() time.Duration { return time.Since(base) })
}
