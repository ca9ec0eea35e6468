package rad

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sweeney/geiger-sensor/internal/rtc"
	"github.com/sweeney/geiger-sensor/internal/store"
)

// Engine turns the raw pulse count into a smoothed dose rate and an
// accumulated dose.
//
// BufferTick runs in tick context. All other methods belong to the main loop.
type Engine struct {
	cfg     Config
	counter *PulseCounter
	sleeper rtc.Sleeper

	buffered     atomic.Uint32
	prevBuffered uint32

	// span of the next snapshot in seconds, 0 for the usual one
	nextSpan uint32

	filter      FilterLevel
	smoothedCPM float64
	doseRate    float64
	totalCounts uint64 // 1.43 GSv at 215 CPM per uSv/h before overflow
	last        DoseState
}

// maxTotalCounts is 2^64, the first count a uint64 cannot hold.
const maxTotalCounts float64 = math.MaxUint64 + 1

// NewEngine returns an engine with the fastest filter selected.
func NewEngine(cfg Config, counter *PulseCounter, sleeper rtc.Sleeper) *Engine {
	return &Engine{
		cfg:     cfg,
		counter: counter,
		sleeper: sleeper,
		filter:  FilterFast,
	}
}

// Config returns the engine calibration.
func (e *Engine) Config() Config {
	return e.cfg
}

// BufferTick copies the raw pulse count into the buffer. It must run once
// per second, before ProcessTick for that second.
func (e *Engine) BufferTick() {
	e.buffered.Store(e.counter.Raw())
}

// Buffered returns the last snapshot taken by BufferTick.
func (e *Engine) Buffered() uint32 {
	return e.buffered.Load()
}

// Prime aligns the buffer and the previous snapshot with the current raw
// count, so pulses seen before acquisition starts are not counted.
func (e *Engine) Prime() {
	raw := e.counter.Raw()
	e.buffered.Store(raw)
	e.prevBuffered = raw
}

// ProcessTick consumes the buffered snapshot and updates rate and dose.
func (e *Engine) ProcessTick() DoseState {
	snap := e.buffered.Load()

	delta := snap - e.prevBuffered
	e.prevBuffered = snap

	span := uint32(1)
	if e.nextSpan > 1 {
		span = e.nextSpan
	}
	e.nextSpan = 0
	cps := delta
	if span > 1 {
		cps = uint32(math.Round(float64(delta) / float64(span)))
	}

	corrected, saturated := correctDeadTime(float64(delta)/float64(span), e.cfg.DeadTime, e.cfg.SaturationLimit)

	f := e.filter.Factor()
	e.smoothedCPM = f*(60*corrected) + (1-f)*e.smoothedCPM
	e.doseRate = e.smoothedCPM / e.cfg.ConversionFactor

	// integer pulse space keeps long-run rounding error bounded
	e.totalCounts += uint64(math.Round(corrected * float64(span)))

	e.last = DoseState{
		Buffered:     snap,
		CPS:          cps,
		CorrectedCPS: corrected,
		SmoothedCPM:  e.smoothedCPM,
		DoseRate:     e.doseRate,
		TotalCounts:  e.totalCounts,
		Saturated:    saturated,
		Filter:       e.filter,
	}
	return e.last
}

// correctDeadTime applies the non-paralyzable dead-time model
// n = m / (1 - m*tau). When m*tau reaches limit the denominator is held at
// 1-limit and the result is flagged saturated.
func correctDeadTime(cps, deadTime, limit float64) (float64, bool) {
	if cps <= 0 || deadTime <= 0 {
		return cps, false
	}
	if limit <= 0 || limit >= 1 {
		limit = DefaultConfig().SaturationLimit
	}
	loss := cps * deadTime
	if loss >= limit {
		return cps / (1 - limit), true
	}
	return cps / (1 - loss), false
}

// Backdate records that the next buffered snapshot covers secs seconds
// instead of one, as after a tick recalibration. The next ProcessTick
// averages the rate over the span and still adds every pulse to the total.
func (e *Engine) Backdate(secs uint32) {
	e.nextSpan = secs
}

// State returns the result of the last ProcessTick.
func (e *Engine) State() DoseState {
	return e.last
}

// DoseRate returns the current dose rate in uSv/h.
func (e *Engine) DoseRate() float64 {
	return e.doseRate
}

// Filter returns the selected smoothing preset.
func (e *Engine) Filter() FilterLevel {
	return e.filter
}

// SetFilterLevel switches the smoothing preset. The smoothed rate carries
// over, so the output changes continuously.
func (e *Engine) SetFilterLevel(l FilterLevel) error {
	if !l.Valid() {
		return fmt.Errorf("%w: level %d", ErrInvalidFilter, l)
	}
	e.filter = l
	return nil
}

// TotalCounts returns the accumulated corrected pulse count.
func (e *Engine) TotalCounts() uint64 {
	return e.totalCounts
}

// TotalDose returns the accumulated dose in uSv.
func (e *Engine) TotalDose() float64 {
	return float64(e.totalCounts) / e.cfg.countsPerDose()
}

// ResetTotalDose sets the accumulated dose in uSv. It is used for user
// resets and for restoring the persisted value.
func (e *Engine) ResetTotalDose(dose float64) error {
	if math.IsNaN(dose) || math.IsInf(dose, 0) || dose < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDose, dose)
	}
	counts := dose * e.cfg.countsPerDose()
	if counts >= maxTotalCounts {
		return fmt.Errorf("%w: %v uSv exceeds the pulse-count range", ErrInvalidDose, dose)
	}
	e.totalCounts = uint64(counts)
	return nil
}

// LoadTotalDose restores the accumulated dose from s. A value that is not a
// valid dose, such as an erased EEPROM cell, restores as zero and the error
// wraps ErrInvalidDose.
func (e *Engine) LoadTotalDose(s store.Store) error {
	var dose float32
	err := e.retryBusy(func() error {
		var err error
		dose, err = s.LoadDose()
		return err
	})
	if err != nil {
		return fmt.Errorf("load dose: %w", err)
	}
	if err := e.ResetTotalDose(float64(dose)); err != nil {
		e.totalCounts = 0
		return fmt.Errorf("stored dose: %w", err)
	}
	return nil
}

// PersistTotalDose writes the accumulated dose to s. A busy store is polled
// until Config.StoreTimeout; after that the attempt is abandoned with the
// last error.
func (e *Engine) PersistTotalDose(s store.Store) error {
	dose := float32(e.TotalDose())
	if err := e.retryBusy(func() error { return s.StoreDose(dose) }); err != nil {
		return fmt.Errorf("store dose: %w", err)
	}
	return nil
}

func (e *Engine) retryBusy(op func() error) error {
	attempts := 1
	if e.cfg.StorePoll > 0 {
		attempts += int(e.cfg.StoreTimeout / e.cfg.StorePoll)
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); !errors.Is(err, store.ErrBusy) {
			return err
		}
		if i < attempts-1 {
			e.sleeper.Sleep(e.cfg.StorePoll)
		}
	}
	return err
}

// CheckHV runs the HV diagnostic window and reports whether the edge count
// lies inside the expected band.
func (e *Engine) CheckHV() (uint32, bool) {
	counts := e.counter.SnapshotAndClearHV(e.cfg.HVWindow)
	return counts, counts > e.cfg.HVMinPulses && counts < e.cfg.HVMaxPulses
}
