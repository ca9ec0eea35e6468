package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Ready         bool             `json:"ready"`
	Dose          DoseJSON         `json:"dose"`
	Fault         string           `json:"fault"`
	HV            HVJSON           `json:"hv"`
	Alarm         AlarmJSON        `json:"alarm"`
	Clock         string           `json:"clock"`
	Ticks         uint32           `json:"instrument_uptime_seconds"`
	LogInterval   uint16           `json:"log_interval_seconds"`
	LastSave      string           `json:"last_save,omitempty"`
	Calibration   *CalibrationJSON `json:"calibration,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Network       *NetworkJSON     `json:"network,omitempty"`
	Config        ConfigJSON       `json:"config"`
}

// DoseJSON is the current reading.
type DoseJSON struct {
	RateUSvH  float64 `json:"rate_usvh"`
	TotalUSv  float64 `json:"total_usv"`
	CPM       float64 `json:"cpm"`
	CPS       uint32  `json:"cps"`
	Saturated bool    `json:"saturated"`
	Filter    string  `json:"filter"`
}

// HVJSON is the HV supply state.
type HVJSON struct {
	On     bool   `json:"on"`
	Counts uint32 `json:"counts"`
}

// AlarmJSON is the dose-rate alarm state.
type AlarmJSON struct {
	LevelUSvH    float64 `json:"level_usvh"`
	Active       bool    `json:"active"`
	Acknowledged bool    `json:"acknowledged"`
}

// CalibrationJSON is the last tick recalibration.
type CalibrationJSON struct {
	PeriodNs int64   `json:"period_ns"`
	PPM      float64 `json:"ppm"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs      int64   `json:"heartbeat_ms"`
	SaveIntervalMs   int64   `json:"save_interval_ms"`
	DeadTimeUs       float64 `json:"dead_time_us"`
	ConversionFactor float64 `json:"conversion_factor"`
	Storage          string  `json:"storage"`
	Broker           string  `json:"broker"`
	HTTPPort         string  `json:"http_port"`
	WSBroker         string  `json:"ws_broker,omitempty"`
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func buildInner(snap Snapshot) StatusInner {
	r := snap.Reading
	inner := StatusInner{
		Ready: snap.Ready,
		Dose: DoseJSON{
			RateUSvH:  round4(r.DoseRate),
			TotalUSv:  round4(r.TotalDose),
			CPM:       round4(r.SmoothedCPM),
			CPS:       r.CPS,
			Saturated: r.Saturated,
			Filter:    r.Filter.String(),
		},
		Fault: r.Fault.String(),
		HV:    HVJSON{On: snap.HVOn, Counts: snap.HVCounts},
		Alarm: AlarmJSON{
			LevelUSvH:    snap.AlarmLevel,
			Active:       snap.AlarmActive,
			Acknowledged: snap.AlarmAcknowledged,
		},
		Clock:         snap.Clock.String(),
		Ticks:         snap.Ticks,
		LogInterval:   snap.LogInterval,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			HeartbeatMs:      snap.Config.HeartbeatMs,
			SaveIntervalMs:   snap.Config.SaveIntervalMs,
			DeadTimeUs:       snap.Config.DeadTimeUs,
			ConversionFactor: snap.Config.ConversionFactor,
			Storage:          snap.Config.Storage,
			Broker:           snap.Config.Broker,
			HTTPPort:         snap.Config.HTTPPort,
			WSBroker:         snap.Config.WSBroker,
		},
	}
	if !snap.LastSave.IsZero() {
		inner.LastSave = snap.LastSave.UTC().Format(time.RFC3339)
	}
	if c := snap.Calibration; c != nil {
		inner.Calibration = &CalibrationJSON{
			PeriodNs: c.Period.Nanoseconds(),
			PPM:      math.Round(c.PPM()*10) / 10,
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
