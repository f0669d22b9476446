package logic

import (
	"fmt"
	"time"
)

// BatteryConfig holds the battery thresholds in converted millivolts.
type BatteryConfig struct {
	LowMV            int  `mapstructure:"low_mv" yaml:"low_mv"`
	ShutdownMV       int  `mapstructure:"shutdown_mv" yaml:"shutdown_mv"`
	RecoveryMarginMV int  `mapstructure:"recovery_margin_mv" yaml:"recovery_margin_mv"`
	CriticalShutdown bool `mapstructure:"critical_shutdown" yaml:"critical_shutdown"`
}

// ThermalConfig holds the over-temperature thresholds in °C.
type ThermalConfig struct {
	MaxC            float64 `mapstructure:"max_c" yaml:"max_c"`
	RecoveryMarginC float64 `mapstructure:"recovery_margin_c" yaml:"recovery_margin_c"`
}

// BatteryMachine tracks NORMAL/LOW with hysteresis and reports
// BATTERY_CRITICAL once when, while low, the voltage drops below the shutdown
// threshold. The report re-arms after the voltage climbs back to the threshold.
type BatteryMachine struct {
	h          *Hysteresis
	shutdownMV int
	critical   bool
}

// NewBatteryMachine creates a machine in the NORMAL state.
func NewBatteryMachine(cfg BatteryConfig) (*BatteryMachine, error) {
	if cfg.ShutdownMV >= cfg.LowMV {
		return nil, fmt.Errorf("battery shutdown threshold %d must be below low threshold %d", cfg.ShutdownMV, cfg.LowMV)
	}
	h, err := NewHysteresis(float64(cfg.LowMV), float64(cfg.RecoveryMarginMV), Falling)
	if err != nil {
		return nil, fmt.Errorf("battery: %w", err)
	}
	return &BatteryMachine{h: h, shutdownMV: cfg.ShutdownMV}, nil
}

// Process evaluates one converted voltage and returns the resulting events.
func (m *BatteryMachine) Process(mv int, now time.Time) []Event {
	wasLow := m.h.Tripped()
	changed := m.h.Update(float64(mv))

	if !m.h.Tripped() || mv >= m.shutdownMV {
		m.critical = false
	}

	switch {
	case changed && m.h.Tripped():
		return []Event{{Timestamp: now, Type: EventBatteryLow, Value: float64(mv)}}
	case changed:
		return []Event{{Timestamp: now, Type: EventBatteryOK, Value: float64(mv)}}
	case wasLow && mv < m.shutdownMV && !m.critical:
		m.critical = true
		return []Event{{Timestamp: now, Type: EventBatteryCritical, Value: float64(mv)}}
	}
	return nil
}

// Critical reports whether the last voltage was below the shutdown threshold
// while low and the critical event has already been reported.
func (m *BatteryMachine) Critical() bool {
	return m.critical
}

// State returns the current battery state.
func (m *BatteryMachine) State() BatteryState {
	if m.h.Tripped() {
		return BatteryLow
	}
	return BatteryNormal
}

// ThermalMachine tracks NORMAL/OVER with hysteresis.
type ThermalMachine struct {
	h *Hysteresis
}

// NewThermalMachine creates a machine in the NORMAL state.
func NewThermalMachine(cfg ThermalConfig) (*ThermalMachine, error) {
	h, err := NewHysteresis(cfg.MaxC, cfg.RecoveryMarginC, Rising)
	if err != nil {
		return nil, fmt.Errorf("thermal: %w", err)
	}
	return &ThermalMachine{h: h}, nil
}

// Process evaluates one temperature and returns the transition event, if any.
func (m *ThermalMachine) Process(c float64, now time.Time) []Event {
	if !m.h.Update(c) {
		return nil
	}
	if m.h.Tripped() {
		return []Event{{Timestamp: now, Type: EventOverTemp, Value: c}}
	}
	return []Event{{Timestamp: now, Type: EventTempOK, Value: c}}
}

// State returns the current thermal state.
func (m *ThermalMachine) State() ThermalState {
	if m.h.Tripped() {
		return ThermalOver
	}
	return ThermalNormal
}

// Over reports whether the indicator output should be driven high.
func (m *ThermalMachine) Over() bool {
	return m.h.Tripped()
}
