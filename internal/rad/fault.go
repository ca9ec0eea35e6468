package rad

// FaultKind classifies a detector fault episode.
type FaultKind int

const (
	FaultNone FaultKind = iota
	// FaultDetector means the tube or pulse amplifier went silent while
	// the HV supply looks healthy.
	FaultDetector
	// FaultHV means the HV gate edge count was outside its band.
	FaultHV
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "NONE"
	case FaultDetector:
		return "DETECTOR"
	case FaultHV:
		return "HV"
	}
	return "UNKNOWN"
}

// FaultEvent is emitted once when a fault episode starts and once when it
// ends.
type FaultEvent struct {
	Kind      FaultKind // kind of the episode, also set on recovery
	Recovered bool
	HVCounts  uint32 // edges seen in the diagnostic window; zero on recovery
	Uptime    uint32
}

// HVChecker runs the HV diagnostic window.
type HVChecker interface {
	CheckHV() (counts uint32, ok bool)
}

// FaultMonitor watches the buffered pulse count for silence.
//
// It is a two-state machine. OK goes to FAULT when the count has not changed
// for more than MaxPulseInterval seconds of uptime; the HV window then runs
// once to tell an HV fault from a detector fault. FAULT goes back to OK on
// the next change of the count.
type FaultMonitor struct {
	maxInterval uint32
	hv          HVChecker

	countsOld uint32
	lastPulse uint32
	kind      FaultKind
	hvCounts  uint32
}

// NewFaultMonitor returns a monitor in the OK state.
func NewFaultMonitor(maxInterval uint32, hv HVChecker) *FaultMonitor {
	return &FaultMonitor{maxInterval: maxInterval, hv: hv}
}

// Prime sets the reference count and pulse timestamp, normally at start.
func (m *FaultMonitor) Prime(buffered, uptime uint32) {
	m.countsOld = buffered
	m.lastPulse = uptime
}

// Check evaluates one tick. It returns an event on a state transition and
// nil otherwise. uptime must be the monotonic uptime, not the wall clock.
func (m *FaultMonitor) Check(buffered, uptime uint32) *FaultEvent {
	if buffered != m.countsOld {
		m.countsOld = buffered
		m.lastPulse = uptime
		if m.kind == FaultNone {
			return nil
		}
		kind := m.kind
		m.kind = FaultNone
		m.hvCounts = 0
		return &FaultEvent{Kind: kind, Recovered: true, Uptime: uptime}
	}

	if uptime-m.lastPulse <= m.maxInterval || m.kind != FaultNone {
		return nil
	}

	// the HV window costs ~100ms of dead acquisition, run it once per episode
	counts, ok := m.hv.CheckHV()
	m.kind = FaultDetector
	if !ok {
		m.kind = FaultHV
	}
	m.hvCounts = counts
	return &FaultEvent{Kind: m.kind, HVCounts: counts, Uptime: uptime}
}

// Fault returns the kind of the current episode, FaultNone when OK.
func (m *FaultMonitor) Fault() FaultKind {
	return m.kind
}

// Faulted reports whether a fault is latched.
func (m *FaultMonitor) Faulted() bool {
	return m.kind != FaultNone
}

// LastPulse returns the uptime of the last observed count change.
func (m *FaultMonitor) LastPulse() uint32 {
	return m.lastPulse
}

// HVCounts returns the edge count of the current episode's HV window.
func (m *FaultMonitor) HVCounts() uint32 {
	return m.hvCounts
}
