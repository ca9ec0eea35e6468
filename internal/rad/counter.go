package rad

import (
	"sync/atomic"
	"time"

	"github.com/sweeney/geiger-sensor/internal/rtc"
)

// PulseCounter counts GM tube pulses and HV gate edges.
//
// The raw pulse count wraps at 32 bits. Only differences between snapshots
// are used, so a wrap is harmless as long as it happens at most once between
// two snapshots.
type PulseCounter struct {
	raw       atomic.Uint32
	hv        atomic.Uint32
	hvEnabled atomic.Bool
	sleeper   rtc.Sleeper
}

// NewPulseCounter returns a counter that waits out HV windows on sleeper.
func NewPulseCounter(sleeper rtc.Sleeper) *PulseCounter {
	return &PulseCounter{sleeper: sleeper}
}

// OnPulseEdge is the handler for a GM tube pulse.
func (c *PulseCounter) OnPulseEdge() {
	c.raw.Add(1)
}

// OnHVEdge is the handler for an HV gate edge. Edges are only counted
// during a diagnostic window.
func (c *PulseCounter) OnHVEdge() {
	if c.hvEnabled.Load() {
		c.hv.Add(1)
	}
}

// Raw returns the raw pulse count in a single atomic load.
func (c *PulseCounter) Raw() uint32 {
	return c.raw.Load()
}

// SnapshotAndClearHV counts HV gate edges for window and returns the count.
// It blocks for the whole window and cannot be cancelled.
func (c *PulseCounter) SnapshotAndClearHV(window time.Duration) uint32 {
	c.hv.Store(0)
	c.hvEnabled.Store(true)
	c.sleeper.Sleep(window)
	c.hvEnabled.Store(false)
	return c.hv.Load()
}
