// Package instrument ties the acquisition core to the board, storage and
// telemetry. An Instrument is owned by the main loop: every method except
// the tick hook registered on the TickSource must be called from there.
package instrument

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/geiger-sensor/internal/console"
	"github.com/sweeney/geiger-sensor/internal/gpio"
	"github.com/sweeney/geiger-sensor/internal/mqtt"
	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/rtc"
	"github.com/sweeney/geiger-sensor/internal/status"
	"github.com/sweeney/geiger-sensor/internal/store"
)

// maxBeep bounds the b command, which blocks the main loop.
const maxBeep = time.Second

// Options are the run-time settings of an instrument.
type Options struct {
	Rad          rad.Config
	Filter       rad.FilterLevel
	AlarmLevel   float64
	LogInterval  uint16        // seconds, 0 disables the data log
	SaveInterval time.Duration // 0 disables periodic saves

	// CalibrationTimeout bounds a tick recalibration. Defaults to 3s.
	CalibrationTimeout time.Duration
}

// Deps are the collaborators of an instrument. Counter must be the one the
// hardware delivers edges to.
type Deps struct {
	Counter   *rad.PulseCounter
	Clock     *rtc.Clock
	Ticks     *rtc.TickSource
	Hardware  gpio.Hardware
	Store     store.Store
	Publisher mqtt.Publisher
	Tracker   *status.Tracker // optional
	Sleeper   rtc.Sleeper
	Now       func() time.Time
}

// Instrument is the per-second scheduler context.
type Instrument struct {
	opts Options
	deps Deps

	engine  *rad.Engine
	monitor *rad.FaultMonitor
	alarm   *rad.Alarm

	hvOn        bool
	hvCounts    uint32
	beeper      bool
	saturated   bool
	logInterval uint16
	logHeader   bool

	lastSave       time.Time
	lastSaveUptime uint32

	calib *rtc.Calibration
}

// New builds an instrument and registers the buffering hook on the tick
// source. Call Start before running the tick loop.
func New(opts Options, deps Deps) *Instrument {
	if deps.Sleeper == nil {
		deps.Sleeper = rtc.RealSleeper
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.CalibrationTimeout == 0 {
		opts.CalibrationTimeout = 3 * time.Second
	}

	engine := rad.NewEngine(opts.Rad, deps.Counter, deps.Sleeper)
	in := &Instrument{
		opts:        opts,
		deps:        deps,
		engine:      engine,
		monitor:     rad.NewFaultMonitor(opts.Rad.MaxPulseInterval, engine),
		alarm:       rad.NewAlarm(opts.AlarmLevel),
		logInterval: opts.LogInterval,
	}
	deps.Ticks.OnTick(engine.BufferTick)
	return in
}

// Start restores the dose, switches the HV supply on and checks it. An HV
// supply outside its band switches it off again and returns an error
// wrapping rad.ErrHVFault.
func (in *Instrument) Start() error {
	if err := in.engine.LoadTotalDose(in.deps.Store); err != nil {
		log.Printf("store: %v, total dose starts at 0", err)
	} else {
		log.Printf("store: restored total dose %.4fuSv", in.engine.TotalDose())
	}

	if err := in.engine.SetFilterLevel(in.opts.Filter); err != nil {
		return err
	}

	if err := in.SetHV(true); err != nil {
		return err
	}
	counts, ok := in.engine.CheckHV()
	in.hvCounts = counts
	if !ok {
		if err := in.SetHV(false); err != nil {
			log.Printf("hv: switch off: %v", err)
		}
		return fmt.Errorf("%w: %d edges in %v, want (%d, %d)",
			rad.ErrHVFault, counts, in.opts.Rad.HVWindow, in.opts.Rad.HVMinPulses, in.opts.Rad.HVMaxPulses)
	}
	log.Printf("hv: ok, %d edges in %v", counts, in.opts.Rad.HVWindow)

	in.engine.Prime()
	in.monitor.Prime(in.engine.Buffered(), in.deps.Clock.Uptime())
	in.lastSaveUptime = in.deps.Clock.Uptime()
	in.updateStatus()
	return nil
}

// Tick runs the per-second cascade if a second has elapsed since the last
// call and reports whether it did.
func (in *Instrument) Tick() bool {
	if !in.deps.Clock.CheckSecTick() {
		return false
	}

	st := in.engine.ProcessTick()
	uptime := in.deps.Clock.Uptime()

	if st.Saturated != in.saturated {
		in.saturated = st.Saturated
		if st.Saturated {
			log.Printf("rate: dead-time correction saturated at %d cps", st.CPS)
		} else {
			log.Printf("rate: below saturation")
		}
	}

	if ev := in.monitor.Check(st.Buffered, uptime); ev != nil {
		in.handleFault(ev)
	}

	in.checkAlarm()
	in.logData()

	if in.opts.SaveInterval > 0 && time.Duration(uptime-in.lastSaveUptime)*time.Second >= in.opts.SaveInterval {
		if err := in.SaveTotalDose(); err != nil {
			log.Printf("store: periodic save: %v", err)
			// retry at the next interval, not every tick
			in.lastSaveUptime = uptime
		}
	}

	in.updateStatus()
	return true
}

func (in *Instrument) handleFault(ev *rad.FaultEvent) {
	e := mqtt.Event{
		Timestamp: in.deps.Now(),
		Fault:     ev.Kind,
		HVCounts:  ev.HVCounts,
		DoseRate:  in.engine.DoseRate(),
		TotalDose: in.engine.TotalDose(),
		Uptime:    ev.Uptime,
	}

	switch {
	case ev.Recovered:
		log.Printf("fault: detector recovered after %s fault", ev.Kind)
		e.Type = mqtt.EventRecovered
	case ev.Kind == rad.FaultHV:
		log.Printf("fault: HV FAULT counts=%d", ev.HVCounts)
		e.Type = mqtt.EventFault
		in.hvCounts = ev.HVCounts
		if err := in.SetHV(false); err != nil {
			log.Printf("hv: switch off: %v", err)
		}
	default:
		log.Printf("fault: DETECTOR FAULT counts=%d", ev.HVCounts)
		e.Type = mqtt.EventFault
		in.hvCounts = ev.HVCounts
	}

	if err := in.deps.Publisher.PublishEvent(e); err != nil {
		log.Printf("publish error: %v", err)
	}
}

func (in *Instrument) checkAlarm() {
	wasActive := in.alarm.Active()
	rate := in.engine.DoseRate()

	if in.alarm.Check(rate, in.monitor.Faulted()) {
		log.Printf("alarm: rate=%.3fuSv/h level=%.3fuSv/h fault=%s", rate, in.alarm.Level(), in.monitor.Fault())
		in.publishEvent(mqtt.EventAlarm)
	} else if wasActive && !in.alarm.Active() {
		log.Printf("alarm: cleared")
		in.publishEvent(mqtt.EventAlarmCleared)
	}

	if in.alarm.Sounding() {
		in.setBeeper(!in.beeper)
	} else if in.beeper {
		in.setBeeper(false)
	}
}

func (in *Instrument) publishEvent(t mqtt.EventType) {
	e := mqtt.Event{
		Timestamp: in.deps.Now(),
		Type:      t,
		Fault:     in.monitor.Fault(),
		DoseRate:  in.engine.DoseRate(),
		TotalDose: in.engine.TotalDose(),
		Uptime:    in.deps.Clock.Uptime(),
	}
	if err := in.deps.Publisher.PublishEvent(e); err != nil {
		log.Printf("publish error: %v", err)
	}
}

func (in *Instrument) setBeeper(on bool) {
	if err := in.deps.Hardware.SetBeeper(on); err != nil {
		log.Printf("beeper: %v", err)
		return
	}
	in.beeper = on
}

// logData writes the header on the first tick after logging is enabled and
// a data line every logInterval seconds of wall clock.
func (in *Instrument) logData() {
	if in.logInterval == 0 {
		return
	}
	if !in.logHeader {
		log.Printf("data: time rate total")
		in.logHeader = true
	}
	if in.deps.Clock.SecTime()%int64(in.logInterval) != 0 {
		return
	}
	r := in.Reading()
	clock := in.deps.Clock.WallClock()
	log.Printf("data: %s %.3fuSv/h %.4fuSv", clock, r.DoseRate, r.TotalDose)

	err := in.deps.Publisher.PublishReading(mqtt.Reading{
		Timestamp: in.deps.Now(),
		Clock:     clock,
		Uptime:    in.deps.Clock.Uptime(),
		Reading:   r,
	})
	if err != nil {
		log.Printf("publish error: %v", err)
	}
}

// Stop saves the dose and switches the board outputs off.
func (in *Instrument) Stop() error {
	var errs []error
	if err := in.SaveTotalDose(); err != nil {
		errs = append(errs, err)
	}
	if err := in.deps.Hardware.SetBeeper(false); err != nil {
		errs = append(errs, fmt.Errorf("beeper off: %w", err))
	}
	in.beeper = false
	if err := in.SetHV(false); err != nil {
		errs = append(errs, err)
	}
	in.updateStatus()
	return errors.Join(errs...)
}

// Reading returns the current values for display and telemetry.
func (in *Instrument) Reading() rad.Reading {
	st := in.engine.State()
	return rad.Reading{
		DoseRate:    in.engine.DoseRate(),
		TotalDose:   in.engine.TotalDose(),
		SmoothedCPM: st.SmoothedCPM,
		CPS:         st.CPS,
		Saturated:   st.Saturated,
		Filter:      in.engine.Filter(),
		Fault:       in.monitor.Fault(),
	}
}

// Status returns the state shown on the status page.
func (in *Instrument) Status() status.Instrument {
	s := status.Instrument{
		Reading:           in.Reading(),
		Clock:             in.deps.Clock.WallClock(),
		Ticks:             in.deps.Clock.Uptime(),
		HVOn:              in.hvOn,
		HVCounts:          in.hvCounts,
		AlarmLevel:        in.alarm.Level(),
		AlarmActive:       in.alarm.Active(),
		AlarmAcknowledged: in.alarm.Active() && !in.alarm.Sounding(),
		LogInterval:       in.logInterval,
		LastSave:          in.lastSave,
	}
	if in.calib != nil {
		c := *in.calib
		s.Calibration = &c
	}
	return s
}

func (in *Instrument) updateStatus() {
	if in.deps.Tracker != nil {
		in.deps.Tracker.Update(in.Status())
	}
}

var _ console.Instrument = (*Instrument)(nil)
