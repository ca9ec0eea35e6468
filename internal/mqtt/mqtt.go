// Package mqtt publishes readings and events to an MQTT broker, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/geiger-sensor/internal/rad"
	"github.com/sweeney/geiger-sensor/internal/rtc"
)

// TopicReadings is the MQTT topic for periodic dose readings.
const TopicReadings = "sensors/geiger/readings"

// TopicEvents is the MQTT topic for fault and alarm events.
const TopicEvents = "sensors/geiger/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "sensors/geiger/system"

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishReading sends a dose reading. Readings are not retained.
	PublishReading(r Reading) error

	// PublishEvent sends a fault or alarm transition.
	PublishEvent(e Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(e SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Reading is one periodic data log record.
type Reading struct {
	Timestamp time.Time
	Clock     rtc.Time // instrument wall clock
	Uptime    uint32
	rad.Reading
}

// EventType is the kind of an instrument event.
type EventType string

const (
	EventFault        EventType = "FAULT"
	EventRecovered    EventType = "RECOVERED"
	EventAlarm        EventType = "ALARM"
	EventAlarmCleared EventType = "ALARM_CLEARED"
	EventDoseReset    EventType = "DOSE_RESET"
)

// Event is a fault, alarm or dose transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Fault     rad.FaultKind
	HVCounts  uint32
	DoseRate  float64
	TotalDose float64
	Uptime    uint32
}

// SystemEvent represents a system lifecycle event (startup, shutdown,
// heartbeat, reconnect).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown signal or LWT cause
	RawPayload []byte // pre-formatted status payload; returned as is by FormatSystemPayload
	Retained   bool
}

// ReadingPayload is the JSON envelope for readings.
type ReadingPayload struct {
	Geiger ReadingInner `json:"geiger"`
}

// ReadingInner contains the reading fields.
type ReadingInner struct {
	Timestamp string  `json:"timestamp"`
	Clock     string  `json:"clock"`
	Uptime    uint32  `json:"uptime_seconds"`
	DoseRate  float64 `json:"dose_rate_usvh"`
	TotalDose float64 `json:"total_dose_usv"`
	CPM       float64 `json:"cpm"`
	CPS       uint32  `json:"cps"`
	Saturated bool    `json:"saturated"`
	Filter    string  `json:"filter"`
	Fault     string  `json:"fault"`
}

// FormatReading creates the JSON payload for a reading.
func FormatReading(r Reading) ([]byte, error) {
	return json.Marshal(ReadingPayload{
		Geiger: ReadingInner{
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
			Clock:     r.Clock.String(),
			Uptime:    r.Uptime,
			DoseRate:  round(r.DoseRate, 4),
			TotalDose: round(r.TotalDose, 4),
			CPM:       round(r.SmoothedCPM, 2),
			CPS:       r.CPS,
			Saturated: r.Saturated,
			Filter:    r.Filter.String(),
			Fault:     r.Fault.String(),
		},
	})
}

// EventPayload is the JSON envelope for instrument events.
type EventPayload struct {
	Geiger EventInner `json:"geiger"`
}

// EventInner contains the event fields.
type EventInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Fault     string  `json:"fault,omitempty"`
	HVCounts  *uint32 `json:"hv_counts,omitempty"`
	DoseRate  float64 `json:"dose_rate_usvh"`
	TotalDose float64 `json:"total_dose_usv"`
	Uptime    uint32  `json:"uptime_seconds"`
}

// FormatEvent creates the JSON payload for an instrument event. Fault and
// HV counts are only present on fault transitions.
func FormatEvent(e Event) ([]byte, error) {
	inner := EventInner{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(e.Type),
		DoseRate:  round(e.DoseRate, 4),
		TotalDose: round(e.TotalDose, 4),
		Uptime:    e.Uptime,
	}
	switch e.Type {
	case EventFault:
		n := e.HVCounts
		inner.HVCounts = &n
		inner.Fault = e.Fault.String()
	case EventRecovered:
		inner.Fault = e.Fault.String()
	}
	return json.Marshal(EventPayload{Geiger: inner})
}

// SystemPayload is the JSON envelope for simple system events (LWT,
// RECONNECTED) that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
