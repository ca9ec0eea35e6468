// Package status provides a thread-safe status tracker for the geiger-sensor
// daemon. The main loop writes it; HTTP handlers and system events read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/rtc"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs      int64
	SaveIntervalMs   int64
	DeadTimeUs       float64
	ConversionFactor float64
	Storage          string
	Broker           string
	HTTPPort         string
	WSBroker         string // websocket broker URL for browser MQTT, empty when disabled
}

// Instrument is the state of the acquisition core at the last tick.
type Instrument struct {
	Reading           rad.Reading
	Clock             rtc.Time
	Ticks             uint32 // instrument uptime in seconds
	HVOn              bool
	HVCounts          uint32
	AlarmLevel        float64
	AlarmActive       bool
	AlarmAcknowledged bool
	LogInterval       uint16
	LastSave          time.Time
	Calibration       *rtc.Calibration
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Instrument
	Ready         bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update stores the instrument state and marks the tracker ready.
// Called from the main loop on every tick.
func (t *Tracker) Update(inst Instrument) {
	t.mu.Lock()
	t.snap.Instrument = inst
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Calibration != nil {
		c := *s.Calibration
		s.Calibration = &c
	}
	s.Now = t.now()
	return s
}
