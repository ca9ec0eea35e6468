package internal

import (
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/geiger-sensor/internal/config"
	"github.com/sweeney/geiger-sensor/internal/console"
	"github.com/sweeney/geiger-sensor/internal/gpio"
	"github.com/sweeney/geiger-sensor/internal/instrument"
	"github.com/sweeney/geiger-sensor/internal/mqtt"
	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/rtc"
	"github.com/sweeney/geiger-sensor/internal/status"
	"github.com/sweeney/geiger-sensor/internal/store"
	"github.com/sweeney/geiger-sensor/internal/web"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// rig wires an instrument to fakes at the hardware and broker edges and to
// the real file store, status tracker and web handler.
type rig struct {
	inst    *instrument.Instrument
	hw      *gpio.Fake
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	store   *store.FileStore
	src     *rtc.TickSource
	ticks   chan time.Time
	hvEdges int // edges seen in each HV window
}

func newRig(t *testing.T, cfg *config.Config, storePath string) *rig {
	t.Helper()
	r := &rig{ticks: make(chan time.Time), hvEdges: 150}
	rc := cfg.RadConfig()

	sleeper := rtc.SleepFunc(func(d time.Duration) {
		if d == rc.HVWindow {
			r.hw.HVEdges(r.hvEdges)
		}
	})
	counter := rad.NewPulseCounter(sleeper)
	r.hw = gpio.NewFake(gpio.Handlers{Pulse: counter.OnPulseEdge, HVEdge: counter.OnHVEdge})
	r.pub = mqtt.NewFakePublisher()
	r.pub.Connected = true
	r.store = store.NewFileStore(storePath)
	r.tracker = status.NewTracker(startTime, status.Config{Broker: cfg.MQTT.Broker, Storage: "file"})

	clock := rtc.NewClock()
	r.src = rtc.NewTickSource(clock, r.ticks, rtc.RawClockFunc(func() time.Duration { return 0 }))
	r.inst = instrument.New(instrument.Options{
		Rad:          rc,
		Filter:       rad.FilterLevel(cfg.Rad.FilterLevel),
		AlarmLevel:   *cfg.Alarm.Level,
		LogInterval:  cfg.Rad.LogInterval,
		SaveInterval: cfg.Storage.SaveInterval.Std(),
	}, instrument.Deps{
		Counter:   counter,
		Clock:     clock,
		Ticks:     r.src,
		Hardware:  r.hw,
		Store:     r.store,
		Publisher: r.pub,
		Tracker:   r.tracker,
		Sleeper:   sleeper,
		Now:       func() time.Time { return startTime },
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.src.Run(ctx)
	return r
}

// step simulates one second: n pulses, the tick, and the main loop's
// response to the wake-up.
func (r *rig) step(t *testing.T, n int) {
	t.Helper()
	r.hw.Pulse(n)
	r.ticks <- time.Time{}
	select {
	case <-r.src.Wake():
	case <-time.After(time.Second):
		t.Fatal("no wake-up after tick")
	}
	if !r.inst.Tick() {
		t.Fatal("tick cascade did not run")
	}
}

func parseConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func eventField(t *testing.T, payload []byte, field string) string {
	t.Helper()
	var p map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	v, _ := p["geiger"][field].(string)
	return v
}

// TestIntegrationFullFlow runs an instrument from start through counting, a
// detector fault and its recovery, a console save and a status read.
func TestIntegrationFullFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dose.yaml")
	if err := store.NewFileStore(path).StoreDose(1.0); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	cfg := parseConfig(t, `
rad:
  log_interval: 5
alarm:
  level: 100
`)
	r := newRig(t, cfg, path)
	if err := r.inst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := r.inst.TotalDose(); math.Abs(got-1.0) > 1e-6 {
		t.Fatalf("restored dose = %v, want 1.0", got)
	}

	// 10 seconds at 20 cps
	for i := 0; i < 10; i++ {
		r.step(t, 20)
	}
	if len(r.pub.Readings) != 2 {
		t.Fatalf("readings = %d, want 2 (wall clock 5 and 10)", len(r.pub.Readings))
	}
	last := r.pub.Readings[1]
	if last.CPS != 20 || last.Clock.String() != "00:00:10" {
		t.Errorf("reading = %+v", last)
	}
	if !strings.Contains(string(r.pub.ReadingPayloads[1]), `"cps":20`) {
		t.Errorf("reading payload = %s", r.pub.ReadingPayloads[1])
	}
	if rate := r.inst.DoseRate(); rate < 4 || rate > 6 {
		t.Errorf("dose rate = %v, want ~5.4uSv/h", rate)
	}
	if len(r.pub.Events) != 0 {
		t.Fatalf("unexpected events: %v", r.pub.EventTypes())
	}

	// silence until the pulse interval is exceeded
	for i := 0; i < 61; i++ {
		r.step(t, 0)
	}
	types := r.pub.EventTypes()
	if len(types) != 2 || types[0] != mqtt.EventFault || types[1] != mqtt.EventAlarm {
		t.Fatalf("events after silence = %v, want [FAULT ALARM]", types)
	}
	if got := eventField(t, r.pub.EventPayloads[0], "fault"); got != "DETECTOR" {
		t.Errorf("fault = %q, want DETECTOR", got)
	}
	if !r.hw.HVOn() {
		t.Error("detector fault switched the HV supply off")
	}

	// a single pulse ends the episode
	r.step(t, 1)
	types = r.pub.EventTypes()
	if len(types) != 4 || types[2] != mqtt.EventRecovered || types[3] != mqtt.EventAlarmCleared {
		t.Fatalf("events after recovery = %v", types)
	}

	// console save goes through to the file
	reply := console.Execute("s", r.inst)
	if reply[len(reply)-1] != console.ReplyOK {
		t.Fatalf("s = %q", reply)
	}
	stored, err := store.NewFileStore(path).LoadDose()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := float32(1.0 + 201.0/(60*215))
	if math.Abs(float64(stored-want)) > 1e-4 {
		t.Errorf("stored dose = %v, want %v", stored, want)
	}

	// status page reflects the instrument
	rec := httptest.NewRecorder()
	web.New("", r.tracker).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/index.json", nil))
	var st status.StatusJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("status JSON: %v", err)
	}
	if !st.Status.Ready || st.Status.Fault != "NONE" || !st.Status.HV.On {
		t.Errorf("status = %+v", st.Status)
	}
	if st.Status.Ticks != 72 || st.Status.LastSave == "" {
		t.Errorf("ticks = %d last_save = %q", st.Status.Ticks, st.Status.LastSave)
	}
	if st.Status.Alarm.Active {
		t.Error("alarm still active after recovery")
	}

	if err := r.inst.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.hw.HVOn() || r.hw.BeeperOn() {
		t.Error("outputs left on after stop")
	}
}

// TestIntegrationHVFault checks that a silent detector with a dead HV
// supply is reported as an HV fault and the supply is switched off.
func TestIntegrationHVFault(t *testing.T) {
	cfg := parseConfig(t, "alarm:\n  level: 0\n")
	r := newRig(t, cfg, filepath.Join(t.TempDir(), "dose.yaml"))
	if err := r.inst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.hvEdges = 0
	for i := 0; i < 61; i++ {
		r.step(t, 0)
	}
	types := r.pub.EventTypes()
	if len(types) != 2 || types[0] != mqtt.EventFault || types[1] != mqtt.EventAlarm {
		t.Fatalf("events = %v, want [FAULT ALARM]", types)
	}
	if got := eventField(t, r.pub.EventPayloads[0], "fault"); got != "HV" {
		t.Errorf("fault = %q, want HV", got)
	}
	if r.hw.HVOn() {
		t.Error("HV supply left on after HV fault")
	}
	if st := r.tracker.Snapshot(); st.Reading.Fault != rad.FaultHV || st.HVOn {
		t.Errorf("status fault = %s hv = %v", st.Reading.Fault, st.HVOn)
	}
}

// TestIntegrationConsoleRequests sends console lines through a request
// channel served by a loop goroutine, as the daemon does.
func TestIntegrationConsoleRequests(t *testing.T) {
	cfg := parseConfig(t, "")
	r := newRig(t, cfg, filepath.Join(t.TempDir(), "dose.yaml"))
	if err := r.inst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	requests := make(chan console.Request)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for req := range requests {
			req.Reply <- console.Execute(req.Line, r.inst)
		}
	}()

	lines := []struct{ in, last string }{
		{"t12:30:00", console.ReplyOK},
		{"t", console.ReplyOK},
		{"f0.05", console.ReplyOK},
		{"f0.5", console.ReplyError},
		{"q", console.ReplyUnknown},
	}
	for _, l := range lines {
		req := console.Request{Line: l.in, Reply: make(chan []string, 1)}
		requests <- req
		got := <-req.Reply
		if got[0] != l.in || got[len(got)-1] != l.last {
			t.Errorf("%s -> %q, want echo and %s", l.in, got, l.last)
		}
	}
	close(requests)
	<-done

	if r.inst.WallClock().String() != "12:30:00" {
		t.Errorf("wall clock = %s", r.inst.WallClock())
	}
	if r.inst.Reading().Filter != rad.FilterMedium {
		t.Errorf("filter = %v, want MEDIUM", r.inst.Reading().Filter)
	}
}
