package rad

import (
	"fmt"
	"math"
)

// AlarmLevels are the selectable dose-rate thresholds in uSv/h. Zero
// disables the rate alarm.
var AlarmLevels = []float64{0.5, 1.0, 2.0, 5.0, 0}

// Alarm raises an alarm when the dose rate exceeds a threshold or a
// detector fault is latched. An acknowledged alarm stays silent until the
// condition clears.
type Alarm struct {
	level        float64
	active       bool
	acknowledged bool
}

// NewAlarm returns an alarm with the given threshold.
func NewAlarm(level float64) *Alarm {
	return &Alarm{level: level}
}

// Level returns the threshold in uSv/h.
func (a *Alarm) Level() float64 {
	return a.level
}

// SetLevel sets the threshold. 0 disables the rate alarm.
func (a *Alarm) SetLevel(level float64) error {
	if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 {
		return fmt.Errorf("alarm level %v must be a non-negative number", level)
	}
	a.level = level
	return nil
}

// Check updates the alarm and reports whether a new episode started.
func (a *Alarm) Check(rate float64, fault bool) bool {
	cond := fault || (a.level != 0 && rate > a.level)
	if !cond {
		a.active = false
		a.acknowledged = false
		return false
	}
	started := !a.active
	a.active = true
	return started
}

// Acknowledge silences the current episode.
func (a *Alarm) Acknowledge() {
	if a.active {
		a.acknowledged = true
	}
}

// Active reports whether the alarm condition holds.
func (a *Alarm) Active() bool {
	return a.active
}

// Sounding reports whether the alarm is active and not acknowledged.
func (a *Alarm) Sounding() bool {
	return a.active && !a.acknowledged
}
