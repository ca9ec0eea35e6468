package instrument

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/geiger-sensor/internal/console"
	"github.com/sweeney/geiger-sensor/internal/mqtt"
	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/rtc"
)

// AlarmLevel returns the alarm threshold in uSv/h.
func (in *Instrument) AlarmLevel() float64 {
	return in.alarm.Level()
}

// SetAlarmLevel sets the alarm threshold. 0 disables the rate alarm.
func (in *Instrument) SetAlarmLevel(level float64) error {
	return in.alarm.SetLevel(level)
}

// AlarmState returns the alarm as shown on the console.
func (in *Instrument) AlarmState() console.AlarmState {
	switch {
	case in.alarm.Sounding():
		return console.AlarmSounding
	case in.alarm.Active():
		return console.AlarmAcknowledged
	}
	return console.AlarmOff
}

// AcknowledgeAlarm silences the beeper until the alarm condition clears.
func (in *Instrument) AcknowledgeAlarm() {
	in.alarm.Acknowledge()
	if in.beeper {
		in.setBeeper(false)
	}
	in.updateStatus()
}

// Beep sounds the beeper for ms milliseconds. It blocks the caller.
func (in *Instrument) Beep(ms int) error {
	d := time.Duration(ms) * time.Millisecond
	if d <= 0 || d > maxBeep {
		return fmt.Errorf("beep %v out of range (0, %v]", d, maxBeep)
	}
	if err := in.deps.Hardware.SetBeeper(true); err != nil {
		return fmt.Errorf("beeper on: %w", err)
	}
	in.deps.Sleeper.Sleep(d)
	if err := in.deps.Hardware.SetBeeper(false); err != nil {
		return fmt.Errorf("beeper off: %w", err)
	}
	in.beeper = false
	return nil
}

// TotalDose returns the accumulated dose in uSv.
func (in *Instrument) TotalDose() float64 {
	return in.engine.TotalDose()
}

// ResetTotalDose sets the accumulated dose in uSv.
func (in *Instrument) ResetTotalDose(dose float64) error {
	if err := in.engine.ResetTotalDose(dose); err != nil {
		return err
	}
	log.Printf("dose: total set to %.4fuSv", in.engine.TotalDose())
	in.publishEvent(mqtt.EventDoseReset)
	in.updateStatus()
	return nil
}

// SaveTotalDose writes the accumulated dose to storage.
func (in *Instrument) SaveTotalDose() error {
	if err := in.engine.PersistTotalDose(in.deps.Store); err != nil {
		return err
	}
	in.lastSave = in.deps.Now()
	in.lastSaveUptime = in.deps.Clock.Uptime()
	log.Printf("store: saved total dose %.4fuSv", in.engine.TotalDose())
	in.updateStatus()
	return nil
}

// FilterFactor returns the smoothing coefficient in use.
func (in *Instrument) FilterFactor() float64 {
	return in.engine.Filter().Factor()
}

// SetFilterFactor selects the smoothing preset with the given coefficient.
func (in *Instrument) SetFilterFactor(factor float64) error {
	level, err := rad.FilterLevelForFactor(factor)
	if err != nil {
		return err
	}
	return in.engine.SetFilterLevel(level)
}

// LogInterval returns the data log interval in seconds.
func (in *Instrument) LogInterval() uint16 {
	return in.logInterval
}

// SetLogInterval sets the data log interval. The header line is written
// again before the next data line.
func (in *Instrument) SetLogInterval(secs uint16) {
	in.logInterval = secs
	in.logHeader = false
}

// CheckHV runs the HV diagnostic window and returns the edge count.
func (in *Instrument) CheckHV() uint32 {
	counts, _ := in.engine.CheckHV()
	in.hvCounts = counts
	return counts
}

// SetHV switches the HV supply.
func (in *Instrument) SetHV(on bool) error {
	if err := in.deps.Hardware.SetHV(on); err != nil {
		return fmt.Errorf("hv: switch %v: %w", on, err)
	}
	in.hvOn = on
	return nil
}

// HVOn reports whether the HV supply is switched on.
func (in *Instrument) HVOn() bool {
	return in.hvOn
}

// DoseRate returns the current dose rate in uSv/h.
func (in *Instrument) DoseRate() float64 {
	return in.engine.DoseRate()
}

// WallClock returns the instrument time of day.
func (in *Instrument) WallClock() rtc.Time {
	return in.deps.Clock.WallClock()
}

// SetWallClock sets the instrument time of day. Uptime is not affected.
func (in *Instrument) SetWallClock(t rtc.Time) {
	in.deps.Clock.SetWallClock(t)
}

// Calibrate measures the tick period against the raw monotonic clock. The
// tick signal stalls for up to CalibrationTimeout; the pulses counted while
// it stalled are averaged over the backdated span on the next tick.
func (in *Instrument) Calibrate() (rtc.Calibration, error) {
	c, err := in.deps.Ticks.Calibrate(in.opts.CalibrationTimeout)
	if err != nil {
		return rtc.Calibration{}, fmt.Errorf("calibrate: %w", err)
	}
	in.calib = &c
	in.engine.Backdate(rtc.CalibrationBackdate)
	log.Printf("tick: period=%v ppm=%.1f", c.Period, c.PPM())
	return c, nil
}

// LastCalibration returns the result of the last successful calibration.
func (in *Instrument) LastCalibration() (rtc.Calibration, bool) {
	if in.calib == nil {
		return rtc.Calibration{}, false
	}
	return *in.calib, true
}
