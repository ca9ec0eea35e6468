package rad

import (
	"math"
	"testing"
)

func TestAlarmRateThreshold(t *testing.T) {
	a := NewAlarm(0.5)

	if a.Check(0.3, false) {
		t.Error("no alarm expected below level")
	}
	if !a.Check(0.6, false) {
		t.Error("expected alarm to start above level")
	}
	if !a.Sounding() {
		t.Error("alarm should sound")
	}
	if a.Check(0.7, false) {
		t.Error("alarm start should be reported once per episode")
	}
	if a.Check(0.4, false) || a.Active() {
		t.Error("alarm should clear below level")
	}
}

func TestAlarmAtLevelIsNotExceeded(t *testing.T) {
	a := NewAlarm(1.0)
	if a.Check(1.0, false) {
		t.Error("rate equal to level should not alarm")
	}
}

func TestAlarmAcknowledge(t *testing.T) {
	a := NewAlarm(0.5)
	a.Check(1, false)
	a.Acknowledge()

	if !a.Active() {
		t.Error("acknowledged alarm is still active")
	}
	if a.Sounding() {
		t.Error("acknowledged alarm should be silent")
	}

	a.Check(1, false)
	if a.Sounding() {
		t.Error("acknowledgement should hold while the condition persists")
	}

	a.Check(0.1, false)
	if !a.Check(1, false) || !a.Sounding() {
		t.Error("a new episode after clearing should sound again")
	}
}

func TestAlarmAcknowledgeWhenInactive(t *testing.T) {
	a := NewAlarm(0.5)
	a.Acknowledge()
	a.Check(1, false)
	if !a.Sounding() {
		t.Error("acknowledge before an episode must not pre-silence it")
	}
}

func TestAlarmDisabledLevelStillAlarmsOnFault(t *testing.T) {
	a := NewAlarm(0)
	if a.Check(100, false) {
		t.Error("level 0 disables the rate alarm")
	}
	if !a.Check(0, true) {
		t.Error("fault should raise the alarm")
	}
}

func TestAlarmSetLevel(t *testing.T) {
	a := NewAlarm(0.5)
	for _, l := range AlarmLevels {
		if err := a.SetLevel(l); err != nil {
			t.Errorf("level %v: %v", l, err)
		}
	}
	for _, l := range []float64{-0.1, math.NaN(), math.Inf(1)} {
		if err := a.SetLevel(l); err == nil {
			t.Errorf("level %v: expected error", l)
		}
	}
	if a.Level() != 0 {
		t.Errorf("level: got %v, want last valid 0", a.Level())
	}
}
