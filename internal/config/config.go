// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/geiger-sensor/internal/gpio"
	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/store"
)

// Config is the daemon configuration.
type Config struct {
	GPIO      GPIOConfig    `yaml:"gpio"`
	Rad       RadConfig     `yaml:"rad"`
	Alarm     AlarmConfig   `yaml:"alarm"`
	Storage   StorageConfig `yaml:"storage"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	HTTP      HTTPConfig    `yaml:"http"`
	Serial    SerialConfig  `yaml:"serial"`
	Heartbeat Duration      `yaml:"heartbeat"`
}

// GPIOConfig is the detector board wiring.
type GPIOConfig struct {
	Chip        string `yaml:"chip"`
	PulsePin    *int   `yaml:"pulse_pin"`
	HVGatePin   *int   `yaml:"hv_gate_pin"`
	HVEnablePin *int   `yaml:"hv_enable_pin"`
	BeeperPin   *int   `yaml:"beeper_pin"` // -1 disables
}

// RadConfig is the tube calibration and acquisition settings.
type RadConfig struct {
	DeadTime         float64  `yaml:"dead_time"`         // seconds
	ConversionFactor float64  `yaml:"conversion_factor"` // CPM per uSv/h
	SaturationLimit  float64  `yaml:"saturation_limit"`
	MaxPulseInterval uint32   `yaml:"max_pulse_interval"` // seconds
	HVMinPulses      uint32   `yaml:"hv_min_pulses"`
	HVMaxPulses      uint32   `yaml:"hv_max_pulses"`
	HVWindow         Duration `yaml:"hv_window"`
	FilterLevel      int      `yaml:"filter_level"` // 0 fast, 1 medium, 2 slow
	LogInterval      uint16   `yaml:"log_interval"` // seconds, 0 disables
}

// AlarmConfig is the dose-rate alarm.
type AlarmConfig struct {
	Level *float64 `yaml:"level"` // uSv/h, 0 disables
}

// StorageConfig selects where the accumulated dose is kept.
type StorageConfig struct {
	Backend      string   `yaml:"backend"` // file or eeprom
	Path         string   `yaml:"path"`
	I2CBus       string   `yaml:"i2c_bus"`
	I2CAddr      uint16   `yaml:"i2c_addr"`
	Offset       uint16   `yaml:"offset"`
	WideAddress  bool     `yaml:"wide_address"`
	SaveInterval Duration `yaml:"save_interval"`
	BusyTimeout  Duration `yaml:"busy_timeout"`
}

// MQTTConfig is the telemetry broker.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	WSBroker string `yaml:"ws_broker"` // "=broker" derives from Broker, "off" disables
}

// HTTPConfig is the status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // "off" disables
}

// SerialConfig is the command console port.
type SerialConfig struct {
	Port string `yaml:"port"` // empty disables
	Baud int    `yaml:"baud"`
}

// Duration is a time.Duration written as "100ms", "1h" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// Default returns the configuration of the reference instrument.
func Default() *Config {
	rc := rad.DefaultConfig()
	pins := gpio.DefaultPins()
	return &Config{
		GPIO: GPIOConfig{
			Chip:        "gpiochip0",
			PulsePin:    intPtr(pins.Pulse),
			HVGatePin:   intPtr(pins.HVGate),
			HVEnablePin: intPtr(pins.HVEnable),
			BeeperPin:   intPtr(pins.Beeper),
		},
		Rad: RadConfig{
			DeadTime:         rc.DeadTime,
			ConversionFactor: rc.ConversionFactor,
			SaturationLimit:  rc.SaturationLimit,
			MaxPulseInterval: rc.MaxPulseInterval,
			HVMinPulses:      rc.HVMinPulses,
			HVMaxPulses:      rc.HVMaxPulses,
			HVWindow:         Duration(rc.HVWindow),
			FilterLevel:      int(rad.FilterFast),
		},
		Alarm: AlarmConfig{Level: floatPtr(rad.AlarmLevels[0])},
		Storage: StorageConfig{
			Backend:      "file",
			Path:         "/var/lib/geiger-sensor/dose.yaml",
			I2CAddr:      store.DefaultEEPROMAddr,
			SaveInterval: Duration(time.Hour),
			BusyTimeout:  Duration(rc.StoreTimeout),
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://192.168.1.200:1883",
			ClientID: "geiger-sensor",
			WSBroker: "=broker",
		},
		HTTP:      HTTPConfig{Addr: ":80"},
		Serial:    SerialConfig{Baud: 9600},
		Heartbeat: Duration(15 * time.Minute),
	}
}

// Load reads the YAML file at path. Keys that are absent keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = d.GPIO.Chip
	}
	if c.GPIO.PulsePin == nil {
		c.GPIO.PulsePin = d.GPIO.PulsePin
	}
	if c.GPIO.HVGatePin == nil {
		c.GPIO.HVGatePin = d.GPIO.HVGatePin
	}
	if c.GPIO.HVEnablePin == nil {
		c.GPIO.HVEnablePin = d.GPIO.HVEnablePin
	}
	if c.GPIO.BeeperPin == nil {
		c.GPIO.BeeperPin = d.GPIO.BeeperPin
	}
	if c.Rad.DeadTime == 0 {
		c.Rad.DeadTime = d.Rad.DeadTime
	}
	if c.Rad.ConversionFactor == 0 {
		c.Rad.ConversionFactor = d.Rad.ConversionFactor
	}
	if c.Rad.SaturationLimit == 0 {
		c.Rad.SaturationLimit = d.Rad.SaturationLimit
	}
	if c.Rad.MaxPulseInterval == 0 {
		c.Rad.MaxPulseInterval = d.Rad.MaxPulseInterval
	}
	if c.Rad.HVMinPulses == 0 && c.Rad.HVMaxPulses == 0 {
		c.Rad.HVMinPulses, c.Rad.HVMaxPulses = d.Rad.HVMinPulses, d.Rad.HVMaxPulses
	}
	if c.Rad.HVWindow == 0 {
		c.Rad.HVWindow = d.Rad.HVWindow
	}
	if c.Alarm.Level == nil {
		c.Alarm.Level = d.Alarm.Level
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	if c.Storage.I2CAddr == 0 {
		c.Storage.I2CAddr = d.Storage.I2CAddr
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = d.Storage.BusyTimeout
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = d.MQTT.Broker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.WSBroker == "" {
		c.MQTT.WSBroker = d.MQTT.WSBroker
	}
	if c.Storage.SaveInterval == 0 {
		c.Storage.SaveInterval = d.Storage.SaveInterval
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = d.Serial.Baud
	}
}

// Validate checks ranges that would otherwise fail deep inside the daemon.
func (c *Config) Validate() error {
	if c.Rad.DeadTime < 0 || math.IsNaN(c.Rad.DeadTime) || math.IsInf(c.Rad.DeadTime, 0) {
		return fmt.Errorf("rad.dead_time %v must be a non-negative number of seconds", c.Rad.DeadTime)
	}
	if c.Rad.ConversionFactor <= 0 || math.IsNaN(c.Rad.ConversionFactor) || math.IsInf(c.Rad.ConversionFactor, 0) {
		return fmt.Errorf("rad.conversion_factor %v must be positive", c.Rad.ConversionFactor)
	}
	if c.Rad.MaxPulseInterval == 0 {
		return fmt.Errorf("rad.max_pulse_interval must be positive")
	}
	if c.Rad.HVWindow <= 0 {
		return fmt.Errorf("rad.hv_window %v must be positive", c.Rad.HVWindow.Std())
	}
	if c.Rad.SaturationLimit <= 0 || c.Rad.SaturationLimit >= 1 {
		return fmt.Errorf("rad.saturation_limit %v must be in (0, 1)", c.Rad.SaturationLimit)
	}
	if c.Rad.HVMinPulses >= c.Rad.HVMaxPulses {
		return fmt.Errorf("rad.hv_min_pulses %d must be below hv_max_pulses %d", c.Rad.HVMinPulses, c.Rad.HVMaxPulses)
	}
	if !rad.FilterLevel(c.Rad.FilterLevel).Valid() {
		return fmt.Errorf("rad.filter_level %d must be 0, 1 or 2", c.Rad.FilterLevel)
	}
	if *c.Alarm.Level < 0 {
		return fmt.Errorf("alarm.level %v must not be negative", *c.Alarm.Level)
	}
	switch c.Storage.Backend {
	case "file", "eeprom":
	default:
		return fmt.Errorf("storage.backend %q must be file or eeprom", c.Storage.Backend)
	}
	return nil
}

// RadConfig returns the acquisition core configuration.
func (c *Config) RadConfig() rad.Config {
	rc := rad.DefaultConfig()
	rc.DeadTime = c.Rad.DeadTime
	rc.ConversionFactor = c.Rad.ConversionFactor
	rc.SaturationLimit = c.Rad.SaturationLimit
	rc.MaxPulseInterval = c.Rad.MaxPulseInterval
	rc.HVMinPulses = c.Rad.HVMinPulses
	rc.HVMaxPulses = c.Rad.HVMaxPulses
	rc.HVWindow = c.Rad.HVWindow.Std()
	rc.StoreTimeout = c.Storage.BusyTimeout.Std()
	return rc
}

// Pins returns the GPIO wiring.
func (c *Config) Pins() gpio.Pins {
	return gpio.Pins{
		Pulse:    *c.GPIO.PulsePin,
		HVGate:   *c.GPIO.HVGatePin,
		HVEnable: *c.GPIO.HVEnablePin,
		Beeper:   *c.GPIO.BeeperPin,
	}
}

// OpenStore opens the configured dose storage backend.
func (c *Config) OpenStore() (store.Store, error) {
	switch c.Storage.Backend {
	case "eeprom":
		return store.OpenEEPROM(c.Storage.I2CBus, c.Storage.I2CAddr, c.Storage.Offset, c.Storage.WideAddress)
	default:
		return store.NewFileStore(c.Storage.Path), nil
	}
}
