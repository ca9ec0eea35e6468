package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/store"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := Default()
	if c.Rad.DeadTime != d.Rad.DeadTime {
		t.Errorf("dead time = %v, want %v", c.Rad.DeadTime, d.Rad.DeadTime)
	}
	if c.Storage.SaveInterval != Duration(time.Hour) {
		t.Errorf("save interval = %v, want 1h", c.Storage.SaveInterval.Std())
	}
	if *c.GPIO.PulsePin != *d.GPIO.PulsePin {
		t.Errorf("pulse pin = %d, want %d", *c.GPIO.PulsePin, *d.GPIO.PulsePin)
	}
	if *c.Alarm.Level != rad.AlarmLevels[0] {
		t.Errorf("alarm level = %v, want %v", *c.Alarm.Level, rad.AlarmLevels[0])
	}
}

func TestParseOverrides(t *testing.T) {
	doc := `
gpio:
  chip: gpiochip4
  pulse_pin: 5
  beeper_pin: -1
rad:
  dead_time: 0.0001
  conversion_factor: 150
  hv_window: 250ms
  filter_level: 2
  log_interval: 60
alarm:
  level: 0
storage:
  backend: eeprom
  i2c_bus: "1"
  offset: 8
  save_interval: 10m
mqtt:
  broker: tcp://broker.local:1883
heartbeat: 1m
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.GPIO.Chip != "gpiochip4" || *c.GPIO.PulsePin != 5 || *c.GPIO.BeeperPin != -1 {
		t.Errorf("gpio = %+v", c.GPIO)
	}
	rc := c.RadConfig()
	if rc.DeadTime != 0.0001 || rc.ConversionFactor != 150 {
		t.Errorf("rad config = %+v", rc)
	}
	if rc.HVWindow != 250*time.Millisecond {
		t.Errorf("hv window = %v, want 250ms", rc.HVWindow)
	}
	if rc.SaturationLimit != rad.DefaultConfig().SaturationLimit {
		t.Errorf("saturation limit not defaulted: %v", rc.SaturationLimit)
	}
	if c.Rad.FilterLevel != int(rad.FilterSlow) || c.Rad.LogInterval != 60 {
		t.Errorf("rad = %+v", c.Rad)
	}
	if *c.Alarm.Level != 0 {
		t.Errorf("explicit zero alarm level overridden: %v", *c.Alarm.Level)
	}
	if c.Storage.Backend != "eeprom" || c.Storage.I2CAddr != store.DefaultEEPROMAddr || c.Storage.Offset != 8 {
		t.Errorf("storage = %+v", c.Storage)
	}
	if c.Storage.SaveInterval.Std() != 10*time.Minute {
		t.Errorf("save interval = %v", c.Storage.SaveInterval.Std())
	}
	if c.MQTT.Broker != "tcp://broker.local:1883" || c.MQTT.ClientID != "geiger-sensor" {
		t.Errorf("mqtt = %+v", c.MQTT)
	}
	if c.Heartbeat.Std() != time.Minute {
		t.Errorf("heartbeat = %v", c.Heartbeat.Std())
	}
	if p := c.Pins(); p.Pulse != 5 || p.Beeper != -1 || p.HVGate != *Default().GPIO.HVGatePin {
		t.Errorf("pins = %+v", p)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"saturation", "rad: {saturation_limit: 1.5}", "saturation_limit"},
		{"dead time", "rad: {dead_time: -0.00019}", "rad.dead_time"},
		{"dead time nan", "rad: {dead_time: .nan}", "rad.dead_time"},
		{"conversion", "rad: {conversion_factor: -215}", "rad.conversion_factor"},
		{"conversion and dead time", "rad:\n  conversion_factor: -215\n  dead_time: -0.00019\n", "rad."},
		{"hv window", "rad: {hv_window: -100ms}", "rad.hv_window"},
		{"hv band", "rad: {hv_min_pulses: 600, hv_max_pulses: 500}", "hv_min_pulses"},
		{"filter", "rad: {filter_level: 3}", "filter_level"},
		{"alarm", "alarm: {level: -1}", "alarm.level"},
		{"backend", "storage: {backend: flash}", "storage.backend"},
		{"duration", "heartbeat: soon", "parse config"},
		{"syntax", "gpio: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateRadRanges(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}

	c.Rad.MaxPulseInterval = 0
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "rad.max_pulse_interval") {
		t.Errorf("max_pulse_interval 0: got %v", err)
	}

	c = Default()
	c.Rad.HVWindow = 0
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "rad.hv_window") {
		t.Errorf("hv_window 0: got %v", err)
	}

	c = Default()
	c.Rad.ConversionFactor = 0
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "rad.conversion_factor") {
		t.Errorf("conversion_factor 0: got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geiger.yaml")
	if err := os.WriteFile(path, []byte("http: {addr: ':8080'}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q", c.HTTP.Addr)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenStoreFile(t *testing.T) {
	c := Default()
	c.Storage.Path = filepath.Join(t.TempDir(), "dose.yaml")
	s, err := c.OpenStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*store.FileStore); !ok {
		t.Errorf("store = %T, want *store.FileStore", s)
	}
}

func TestDurationMarshal(t *testing.T) {
	v, err := Duration(90 * time.Second).MarshalYAML()
	if err != nil {
		t.Fatal(err)
	}
	if v != "1m30s" {
		t.Errorf("marshal = %v, want 1m30s", v)
	}
}
