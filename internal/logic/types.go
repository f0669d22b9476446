// Package logic contains the pure threshold logic of the battery monitor.
// This package has NO external dependencies (no GPIO, serial, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// BatteryState is the hysteresis state of the battery machine.
type BatteryState string

const (
	BatteryNormal BatteryState = "NORMAL"
	BatteryLow    BatteryState = "LOW"
)

// ThermalState is the hysteresis state of the over-temperature machine.
type ThermalState string

const (
	ThermalNormal ThermalState = "NORMAL"
	ThermalOver   ThermalState = "OVER"
)

// EventType represents a threshold transition or condition.
type EventType string

const (
	EventBatteryLow      EventType = "BATTERY_LOW"
	EventBatteryOK       EventType = "BATTERY_OK"
	EventBatteryCritical EventType = "BATTERY_CRITICAL"
	EventOverTemp        EventType = "OVERTEMP"
	EventTempOK          EventType = "TEMP_OK"
)

// Event is emitted by a machine when it changes state or detects a critical condition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	// Value is the reading that triggered the event (mV or °C).
	Value float64
}

// Reading is the immutable per-cycle snapshot of every monitored quantity.
// Fields that failed to read this cycle carry the previous cycle's value.
type Reading struct {
	Timestamp      time.Time
	VoltageMV      int
	CurrentMA      int
	BatteryPercent int
	CPUTempC       float64
	ModeInfo       int
	WifiMode       int
	MuteMode       int

	// HasVoltage and HasTemperature are false until the first successful read.
	HasVoltage     bool
	HasTemperature bool

	Battery BatteryState
	Thermal ThermalState
}

// InitialReading is the snapshot published before the first cycle.
// The debug overlay is shown until the microcontroller reports otherwise.
func InitialReading() Reading {
	return Reading{
		ModeInfo: 1,
		Battery:  BatteryNormal,
		Thermal:  ThermalNormal,
	}
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	BatteryLow      int
	BatteryOK       int
	BatteryCritical int
	OverTemp        int
	TempOK          int
}

// Add increments the counter for the given event type.
func (c *EventCounts) Add(t EventType) {
	switch t {
	case EventBatteryLow:
		c.BatteryLow++
	case EventBatteryOK:
		c.BatteryOK++
	case EventBatteryCritical:
		c.BatteryCritical++
	case EventOverTemp:
		c.OverTemp++
	case EventTempOK:
		c.TempOK++
	}
}
