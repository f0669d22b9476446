// Package mqtt publishes telemetry to an MQTT broker with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/saio-monitor/internal/logic"
)

// TopicReadings receives one message per cycle.
const TopicReadings = "saio/monitor/readings"

// TopicEvents receives threshold transitions.
const TopicEvents = "saio/monitor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "saio/monitor/system"

// Publisher publishes telemetry to MQTT.
// Errors should be logged by the caller and must not stop the monitor.
type Publisher interface {
	// PublishReading sends the cycle's snapshot.
	PublishReading(r logic.Reading) error

	// Publish sends a threshold event.
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason    string // e.g., "SIGTERM", "SHUTDOWN_PIN" (shutdown only)
	Retained  bool   // Whether the message should be retained by the broker
}

// ReadingPayload is the JSON envelope for TopicReadings.
type ReadingPayload struct {
	Reading ReadingInner `json:"reading"`
}

// ReadingInner contains the reading details.
type ReadingInner struct {
	Timestamp      string   `json:"timestamp"`
	VoltageMV      *int     `json:"voltage_mv"`
	CurrentMA      int      `json:"current_ma"`
	BatteryPercent *int     `json:"battery_percent"`
	CPUTempC       *float64 `json:"cpu_temp_c"`
	Battery        string   `json:"battery"`
	Thermal        string   `json:"thermal"`
	ModeInfo       int      `json:"mode_info"`
	Wifi           int      `json:"wifi"`
	Mute           int      `json:"mute"`
}

// FormatReading creates the JSON payload for a reading.
// Quantities that have never been read are null.
func FormatReading(r logic.Reading) ([]byte, error) {
	inner := ReadingInner{
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
		CurrentMA: r.CurrentMA,
		Battery:   string(r.Battery),
		Thermal:   string(r.Thermal),
		ModeInfo:  r.ModeInfo,
		Wifi:      r.WifiMode,
		Mute:      r.MuteMode,
	}
	if r.HasVoltage {
		mv, pct := r.VoltageMV, r.BatteryPercent
		inner.VoltageMV = &mv
		inner.BatteryPercent = &pct
	}
	if r.HasTemperature {
		c := r.CPUTempC
		inner.CPUTempC = &c
	}
	return json.Marshal(ReadingPayload{Reading: inner})
}

// EventPayload is the JSON envelope for TopicEvents.
type EventPayload struct {
	Event EventInner `json:"event"`
}

// EventInner contains the event details.
type EventInner struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
}

// FormatPayload creates the JSON payload for a threshold event.
func FormatPayload(event logic.Event) ([]byte, error) {
	return json.Marshal(EventPayload{Event: EventInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Type:      string(event.Type),
		Value:     event.Value,
	}})
}

// SystemPayload represents the MQTT message payload for system events.
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
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{System: SystemPayloadInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
	}})
}
