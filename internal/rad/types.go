// Package rad is the radiation acquisition core: pulse counting, dead-time
// correction, rate smoothing, dose integration, detector fault monitoring
// and the dose-rate alarm.
//
// Edge handlers run in the hardware event goroutine and touch only atomics.
// Everything else runs in the main loop and is not safe for concurrent use.
package rad

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrHVFault is returned when the HV supply fails its diagnostic window
	// at start-up.
	ErrHVFault = errors.New("rad: hv supply fault")

	// ErrInvalidFilter is returned for a filter level or factor that is not
	// one of the presets.
	ErrInvalidFilter = errors.New("rad: invalid filter")

	// ErrInvalidDose is returned when a dose is negative, not a number, or
	// too large for the pulse-count total.
	ErrInvalidDose = errors.New("rad: invalid dose")
)

// FilterLevel selects one of the exponential smoothing presets.
type FilterLevel int

const (
	FilterFast FilterLevel = iota
	FilterMedium
	FilterSlow
)

// filterFactors are the smoothing coefficients, least smoothing first.
var filterFactors = [...]float64{0.2, 0.05, 0.02}

// FilterLevels lists the valid levels.
var FilterLevels = []FilterLevel{FilterFast, FilterMedium, FilterSlow}

// Valid reports whether l is a preset.
func (l FilterLevel) Valid() bool {
	return l >= FilterFast && int(l) < len(filterFactors)
}

// Factor returns the smoothing coefficient of l.
func (l FilterLevel) Factor() float64 {
	if !l.Valid() {
		return filterFactors[FilterFast]
	}
	return filterFactors[l]
}

func (l FilterLevel) String() string {
	switch l {
	case FilterFast:
		return "FAST"
	case FilterMedium:
		return "MEDIUM"
	case FilterSlow:
		return "SLOW"
	}
	return "INVALID"
}

// FilterLevelForFactor maps a coefficient back to its preset.
func FilterLevelForFactor(f float64) (FilterLevel, error) {
	for _, l := range FilterLevels {
		if math.Abs(l.Factor()-f) < 1e-6 {
			return l, nil
		}
	}
	return 0, ErrInvalidFilter
}

// Config holds the tube and circuit calibration. The defaults are for an
// SBM-20 tube; change them only after recalibrating the hardware.
type Config struct {
	// DeadTime is the non-paralyzable dead time of tube and amplifier.
	DeadTime float64 // seconds

	// ConversionFactor converts CPM to uSv/h.
	ConversionFactor float64

	// SaturationLimit is the largest cps*DeadTime accepted before the
	// correction is clamped. Must be in (0, 1).
	SaturationLimit float64

	// MaxPulseInterval is the longest silence tolerated before a fault.
	MaxPulseInterval uint32 // seconds

	// HV gate edges in HVWindow must lie strictly between HVMinPulses and
	// HVMaxPulses.
	HVMinPulses uint32
	HVMaxPulses uint32
	HVWindow    time.Duration

	// StoreTimeout bounds how long persistence waits for a busy store.
	StoreTimeout time.Duration
	StorePoll    time.Duration
}

// DefaultConfig returns the calibration of the reference instrument.
func DefaultConfig() Config {
	return Config{
		DeadTime:         190e-6,
		ConversionFactor: 215.0,
		SaturationLimit:  0.95,
		MaxPulseInterval: 60,  // longest gap seen in 12h of background was ~30s
		HVMinPulses:      10,  // ~25 edges per 100ms at background
		HVMaxPulses:      500, // full load
		HVWindow:         100 * time.Millisecond,
		StoreTimeout:     500 * time.Millisecond,
		StorePoll:        10 * time.Millisecond,
	}
}

// countsPerDose is the number of pulses that make up 1 uSv.
func (c Config) countsPerDose() float64 {
	return 60 * c.ConversionFactor
}

// DoseState is the result of one tick of processing.
type DoseState struct {
	// Buffered is the snapshot of the raw counter this tick was computed from.
	Buffered uint32

	CPS          uint32
	CorrectedCPS float64
	SmoothedCPM  float64
	DoseRate     float64 // uSv/h
	TotalCounts  uint64

	// Saturated is set when the dead-time correction was clamped.
	Saturated bool

	Filter FilterLevel
}

// Reading is a read-only view of the engine for display and telemetry.
type Reading struct {
	DoseRate    float64 // uSv/h
	TotalDose   float64 // uSv
	SmoothedCPM float64
	CPS         uint32
	Saturated   bool
	Filter      FilterLevel
	Fault       FaultKind
}
