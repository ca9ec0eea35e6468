package rtc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRaw returns scripted readings and counts calls.
type fakeRaw struct {
	mu       sync.Mutex
	readings []time.Duration
	calls    int
}

func (f *fakeRaw) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.readings[f.calls]
	if f.calls < len(f.readings)-1 {
		f.calls++
	}
	return r
}

func (f *fakeRaw) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTickSourceDelivers(t *testing.T) {
	clock := NewClock()
	ticks := make(chan time.Time)
	src := NewTickSource(clock, ticks, &fakeRaw{readings: []time.Duration{0}})

	var seen []uint32
	src.OnTick(func() {
		// hooks run before the clock advances
		seen = append(seen, clock.Uptime())
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		ticks <- time.Time{}
		<-src.Wake()
	}
	cancel()
	<-done

	if clock.Uptime() != 3 {
		t.Errorf("uptime: got %d, want 3", clock.Uptime())
	}
	want := []uint32{0, 1, 2}
	if len(seen) != len(want) {
		t.Fatalf("hook calls: got %d, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("hook %d saw uptime %d, want %d", i, seen[i], want[i])
		}
	}
	if !clock.CheckSecTick() {
		t.Error("expected second signal")
	}
}

func TestTickSourceStopsOnClosedChannel(t *testing.T) {
	ticks := make(chan time.Time)
	src := NewTickSource(NewClock(), ticks, &fakeRaw{readings: []time.Duration{0}})

	done := make(chan struct{})
	go func() {
		src.Run(context.Background())
		close(done)
	}()
	close(ticks)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after tick channel closed")
	}
}

func TestTickSourceCalibrate(t *testing.T) {
	clock := NewClock()
	ticks := make(chan time.Time)
	raw := &fakeRaw{readings: []time.Duration{
		10 * time.Second,
		11*time.Second + 500*time.Microsecond,
	}}
	src := NewTickSource(clock, ticks, raw)

	hooks := 0
	src.OnTick(func() { hooks++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	type result struct {
		cal Calibration
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		cal, err := src.Calibrate(5 * time.Second)
		resCh <- result{cal, err}
	}()

	waitFor(t, "pause", src.paused.Load)
	ticks <- time.Time{}
	waitFor(t, "first edge", func() bool { return raw.callCount() == 1 })
	ticks <- time.Time{}

	res := <-resCh
	if res.err != nil {
		t.Fatalf("Calibrate: %v", res.err)
	}
	if res.cal.Period != time.Second+500*time.Microsecond {
		t.Errorf("period: got %v, want 1.0005s", res.cal.Period)
	}
	if ppm := res.cal.PPM(); ppm < 499.9 || ppm > 500.1 {
		t.Errorf("ppm: got %f, want 500", ppm)
	}

	if clock.Uptime() != 2 {
		t.Errorf("uptime after calibration: got %d, want 2", clock.Uptime())
	}
	if !clock.CheckSecTick() {
		t.Error("calibration should raise the second signal")
	}
	if hooks != 1 {
		t.Errorf("hooks: got %d, want 1 deferred tick", hooks)
	}
	if src.paused.Load() {
		t.Error("tick delivery should resume after calibration")
	}
}

func TestTickSourceCalibrateTimeout(t *testing.T) {
	clock := NewClock()
	src := NewTickSource(clock, make(chan time.Time), &fakeRaw{readings: []time.Duration{0}})

	_, err := src.Calibrate(20 * time.Millisecond)
	if !errors.Is(err, ErrCalibrationTimeout) {
		t.Fatalf("expected ErrCalibrationTimeout, got %v", err)
	}
	if clock.Uptime() != 0 {
		t.Errorf("uptime should not change on timeout, got %d", clock.Uptime())
	}
	if src.paused.Load() {
		t.Error("tick delivery should resume after timeout")
	}
}

func TestSleepFunc(t *testing.T) {
	var got time.Duration
	var s Sleeper = SleepFunc(func(d time.Duration) { got = d })
	s.Sleep(100 * time.Millisecond)
	if got != 100*time.Millisecond {
		t.Errorf("got %v, want 100ms", got)
	}
}
