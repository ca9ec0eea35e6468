//go:build linux

package rtc

import (
	"time"

	"golang.org/x/sys/unix"
)

type monotonicRaw struct {
	fallback time.Time
}

// NewRawClock returns a clock reading CLOCK_MONOTONIC_RAW, which NTP does not
// slew. It falls back to the Go monotonic clock if the call fails.
func NewRawClock() RawClock {
	return &monotonicRaw{fallback: time.Now()}
}

func (m *monotonicRaw) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return time.Since(m.fallback)
	}
	return time.Duration(ts.Nano())
}
