package rad

import "testing"

// fakeHV returns a fixed result and counts calls.
type fakeHV struct {
	counts uint32
	ok     bool
	calls  int
}

func (f *fakeHV) CheckHV() (uint32, bool) {
	f.calls++
	return f.counts, f.ok
}

func TestFaultAfterMaxIntervalNotBefore(t *testing.T) {
	hv := &fakeHV{counts: 25, ok: true}
	m := NewFaultMonitor(60, hv)

	for up := uint32(1); up <= 60; up++ {
		if ev := m.Check(0, up); ev != nil {
			t.Fatalf("unexpected event at second %d: %+v", up, ev)
		}
	}
	if m.Faulted() {
		t.Fatal("faulted before the interval elapsed")
	}

	ev := m.Check(0, 61)
	if ev == nil {
		t.Fatal("expected fault at second 61")
	}
	if ev.Kind != FaultDetector || ev.Recovered {
		t.Errorf("expected detector fault, got %+v", ev)
	}
	if ev.Uptime != 61 {
		t.Errorf("event uptime: got %d, want 61", ev.Uptime)
	}
	if ev.HVCounts != 25 {
		t.Errorf("hv counts: got %d, want 25", ev.HVCounts)
	}
}

func TestFaultReportedOncePerEpisode(t *testing.T) {
	hv := &fakeHV{counts: 25, ok: true}
	m := NewFaultMonitor(60, hv)

	events := 0
	for up := uint32(1); up <= 300; up++ {
		if ev := m.Check(0, up); ev != nil {
			events++
		}
	}
	if events != 1 {
		t.Errorf("events: got %d, want 1", events)
	}
	if hv.calls != 1 {
		t.Errorf("hv window runs: got %d, want 1", hv.calls)
	}
	if m.Fault() != FaultDetector {
		t.Errorf("fault: got %v, want DETECTOR", m.Fault())
	}
}

func TestFaultHVSubCause(t *testing.T) {
	hv := &fakeHV{counts: 3, ok: false}
	m := NewFaultMonitor(60, hv)

	var ev *FaultEvent
	for up := uint32(1); up <= 61; up++ {
		ev = m.Check(0, up)
	}
	if ev == nil || ev.Kind != FaultHV {
		t.Fatalf("expected HV fault, got %+v", ev)
	}
	if ev.HVCounts != 3 || m.HVCounts() != 3 {
		t.Errorf("hv counts: event %d, monitor %d, want 3", ev.HVCounts, m.HVCounts())
	}
}

func TestFaultRecoveryOnce(t *testing.T) {
	hv := &fakeHV{counts: 25, ok: true}
	m := NewFaultMonitor(60, hv)
	for up := uint32(1); up <= 61; up++ {
		m.Check(0, up)
	}

	ev := m.Check(1, 62)
	if ev == nil || !ev.Recovered {
		t.Fatalf("expected recovery, got %+v", ev)
	}
	if ev.Kind != FaultDetector {
		t.Errorf("recovery kind: got %v, want DETECTOR", ev.Kind)
	}
	if m.Faulted() {
		t.Error("should be OK after recovery")
	}

	for up := uint32(63); up < 80; up++ {
		if ev := m.Check(uint32(up), up); ev != nil {
			t.Errorf("unexpected event at %d: %+v", up, ev)
		}
	}
}

func TestFaultSecondEpisode(t *testing.T) {
	hv := &fakeHV{counts: 25, ok: true}
	m := NewFaultMonitor(10, hv)

	for up := uint32(1); up <= 11; up++ {
		m.Check(0, up)
	}
	m.Check(1, 12) // recovered at 12

	var faults int
	for up := uint32(13); up <= 40; up++ {
		if ev := m.Check(1, up); ev != nil && !ev.Recovered {
			faults++
			if up != 23 {
				t.Errorf("second fault at %d, want 23", up)
			}
		}
	}
	if faults != 1 {
		t.Errorf("faults in second episode: got %d, want 1", faults)
	}
	if hv.calls != 2 {
		t.Errorf("hv window runs: got %d, want 2", hv.calls)
	}
}

func TestPulsesUpdateTimestampInBothStates(t *testing.T) {
	m := NewFaultMonitor(60, &fakeHV{ok: true, counts: 20})

	m.Check(5, 10)
	if m.LastPulse() != 10 {
		t.Errorf("last pulse: got %d, want 10", m.LastPulse())
	}

	for up := uint32(11); up <= 71; up++ {
		m.Check(5, up)
	}
	if !m.Faulted() {
		t.Fatal("expected fault")
	}

	m.Check(6, 72)
	if m.LastPulse() != 72 {
		t.Errorf("last pulse after recovery: got %d, want 72", m.LastPulse())
	}
}

func TestFaultMonitorPrime(t *testing.T) {
	m := NewFaultMonitor(60, &fakeHV{ok: true})
	m.Prime(1234, 100)

	// unchanged from the primed count, but within the interval
	if ev := m.Check(1234, 160); ev != nil {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev := m.Check(1234, 161); ev == nil {
		t.Error("expected fault 61s after the primed timestamp")
	}
}

func TestFaultKindString(t *testing.T) {
	for k, want := range map[FaultKind]string{
		FaultNone:     "NONE",
		FaultDetector: "DETECTOR",
		FaultHV:       "HV",
		FaultKind(9):  "UNKNOWN",
	} {
		if k.String() != want {
			t.Errorf("%d: got %q, want %q", k, k.String(), want)
		}
	}
}
