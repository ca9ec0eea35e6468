package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCalibrationTimeout is returned when the tick source delivers no edges
// during calibration.
var ErrCalibrationTimeout = errors.New("rtc: no tick during calibration")

// Nominal tick period of the hardware timer.
const Nominal = time.Second

// CalibrationBackdate is the uptime, in seconds, that Calibrate adds for the
// ticks it swallows. The deferred hook snapshot covers the same span.
const CalibrationBackdate = 2

// Calibration is the result of measuring one tick period against the raw
// monotonic clock.
type Calibration struct {
	Period time.Duration
}

// PPM returns the deviation of the measured period from nominal in parts per
// million. Positive means the tick source runs slow.
func (c Calibration) PPM() float64 {
	return float64(c.Period-Nominal) / float64(Nominal) * 1e6
}

// TickSource delivers the one-second timer. For every tick it runs the
// registered hooks, advances the clock and wakes the main loop, all from its
// own goroutine (tick context).
type TickSource struct {
	clock *Clock
	ticks <-chan time.Time
	raw   RawClock

	mu    sync.Mutex
	hooks []func()

	wake   chan struct{}
	paused atomic.Bool
	calib  chan struct{}
}

// NewTickSource creates a tick source driven by ticks, normally the channel
// of a one-second time.Ticker.
func NewTickSource(clock *Clock, ticks <-chan time.Time, raw RawClock) *TickSource {
	return &TickSource{
		clock: clock,
		ticks: ticks,
		raw:   raw,
		wake:  make(chan struct{}, 1),
		calib: make(chan struct{}, 1),
	}
}

// OnTick registers fn to run in tick context before the clock advances.
// Hooks must be short and must not block.
func (s *TickSource) OnTick(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Wake returns a channel that receives after every delivered tick.
// It is buffered by one; ticks that arrive while the main loop is busy
// coalesce into a single wake-up.
func (s *TickSource) Wake() <-chan struct{} {
	return s.wake
}

// Run delivers ticks until ctx is cancelled or the tick channel closes.
func (s *TickSource) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.ticks:
			if !ok {
				return
			}
			if s.paused.Load() {
				select {
				case s.calib <- struct{}{}:
				default:
				}
				continue
			}
			s.fire()
		}
	}
}

func (s *TickSource) fire() {
	s.runHooks()
	s.clock.Tick()
	s.notify()
}

func (s *TickSource) runHooks() {
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *TickSource) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Calibrate suspends tick delivery, times two consecutive tick edges against
// the raw monotonic clock and resumes. It blocks for up to about two tick
// periods, bounded by timeout. The two swallowed ticks are backdated into
// the clock and a single deferred tick is delivered, so consumers see one
// second signal.
func (s *TickSource) Calibrate(timeout time.Duration) (Calibration, error) {
	s.paused.Store(true)
	defer s.paused.Store(false)

	// drop an edge left over from an earlier run
	select {
	case <-s.calib:
	default:
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var start, end time.Duration
	for i := 0; i < 2; i++ {
		select {
		case <-s.calib:
			if i == 0 {
				start = s.raw.Now()
			} else {
				end = s.raw.Now()
			}
		case <-deadline.C:
			return Calibration{}, ErrCalibrationTimeout
		}
	}

	s.runHooks()
	s.clock.Backdate(CalibrationBackdate)
	s.notify()

	return Calibration{Period: end - start}, nil
}
