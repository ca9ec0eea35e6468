package gpio

import "sync"

// Fake is a test double for the detector board. Edges injected with Pulse
// and HVEdges are delivered synchronously to the handlers.
type Fake struct {
	mu       sync.Mutex
	handlers Handlers

	hv     bool
	beeper bool

	// HVSwitches records every SetHV call.
	HVSwitches []bool

	// BeeperSwitches counts SetBeeper calls that changed the state.
	BeeperSwitches int

	// SetHVError, if set, is returned by SetHV.
	SetHVError error

	closed bool
}

// NewFake returns a board that delivers injected edges to h.
func NewFake(h Handlers) *Fake {
	return &Fake{handlers: h}
}

// Pulse injects n GM tube pulses.
func (f *Fake) Pulse(n int) {
	for i := 0; i < n; i++ {
		f.handlers.Pulse()
	}
}

// HVEdges injects n HV gate edges if the supply is on.
func (f *Fake) HVEdges(n int) {
	if !f.HVOn() {
		return
	}
	for i := 0; i < n; i++ {
		f.handlers.HVEdge()
	}
}

// SetHV records the HV supply state.
func (f *Fake) SetHV(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetHVError != nil {
		return f.SetHVError
	}
	f.hv = on
	f.HVSwitches = append(f.HVSwitches, on)
	return nil
}

// SetBeeper records the beeper state.
func (f *Fake) SetBeeper(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beeper != on {
		f.BeeperSwitches++
	}
	f.beeper = on
	return nil
}

// HVOn reports the HV supply state.
func (f *Fake) HVOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hv
}

// BeeperOn reports the beeper state.
func (f *Fake) BeeperOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beeper
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close switches everything off and marks the board closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hv = false
	f.beeper = false
	f.closed = true
	return nil
}
