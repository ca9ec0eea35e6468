package rtc

import "time"

// Sleeper blocks the caller for a fixed duration. It is the sub-second timer
// used for diagnostic windows and retry polling.
type Sleeper interface {
	Sleep(d time.Duration)
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(d time.Duration)

// Sleep calls f(d).
func (f SleepFunc) Sleep(d time.Duration) { f(d) }

// RealSleeper sleeps on the system clock.
var RealSleeper Sleeper = SleepFunc(time.Sleep)
