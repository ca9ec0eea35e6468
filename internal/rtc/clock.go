// Package rtc provides the one-second tick source and the wall clock derived
// from it. Uptime is advanced only by the tick; user time changes move an
// offset, so timestamps based on uptime never jump.
package rtc

import (
	"fmt"
	"sync/atomic"
)

// Time is a time of day as the instrument keeps it. There is no calendar:
// Hours keeps counting past 24 until it wraps its storage width.
type Time struct {
	Hours uint16
	Mins  uint8
	Secs  uint8
}

// String formats t as HH:MM:SS.
func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hours, t.Mins, t.Secs)
}

// Seconds returns t as a number of seconds.
func (t Time) Seconds() int64 {
	return int64(t.Hours)*3600 + int64(t.Mins)*60 + int64(t.Secs)
}

// FromSeconds splits secs into hours, minutes and seconds.
func FromSeconds(secs int64) Time {
	if secs < 0 {
		secs = 0
	}
	return Time{
		Hours: uint16(secs / 3600),
		Mins:  uint8(secs % 3600 / 60),
		Secs:  uint8(secs % 60),
	}
}

// Clock tracks uptime and the wall clock offset.
//
// Tick and Backdate are called from tick context. Uptime and CheckSecTick are
// safe from any goroutine. The offset belongs to the main loop: SetWallClock,
// WallClock and SecTime must only be called from there.
type Clock struct {
	uptime  atomic.Uint32
	secTick atomic.Bool
	offset  int64
}

// NewClock returns a clock at uptime zero.
func NewClock() *Clock {
	return &Clock{}
}

// Tick advances uptime by one second and raises the second-elapsed signal.
func (c *Clock) Tick() {
	c.uptime.Add(1)
	c.secTick.Store(true)
}

// Backdate adds secs of uptime that elapsed without ticks being delivered and
// raises the second-elapsed signal.
func (c *Clock) Backdate(secs uint32) {
	c.uptime.Add(secs)
	c.secTick.Store(true)
}

// Uptime returns the seconds counted since start. It is never changed by
// SetWallClock.
func (c *Clock) Uptime() uint32 {
	return c.uptime.Load()
}

// CheckSecTick reports whether a second elapsed since the last call and
// clears the signal.
func (c *Clock) CheckSecTick() bool {
	return c.secTick.CompareAndSwap(true, false)
}

// SetWallClock moves the offset so that the wall clock reads t now.
func (c *Clock) SetWallClock(t Time) {
	c.offset = t.Seconds() - int64(c.uptime.Load())
}

// SecTime returns the wall clock in seconds.
// Do not use it for intervals; it jumps when the time is set.
func (c *Clock) SecTime() int64 {
	return int64(c.uptime.Load()) + c.offset
}

// WallClock returns the wall clock as hours, minutes and seconds.
func (c *Clock) WallClock() Time {
	return FromSeconds(c.SecTime())
}
