// Package units converts raw microcontroller ADC counts into physical units.
// Every function here is pure; calibration constants come from configuration.
package units

import "math"

// Calibration holds the fixed constants of the ADC and voltage divider.
type Calibration struct {
	VoltageScale      float64 `mapstructure:"voltage_scale" yaml:"voltage_scale"`
	CurrentScale      float64 `mapstructure:"current_scale" yaml:"current_scale"`
	DividerMultiplier float64 `mapstructure:"divider_multiplier" yaml:"divider_multiplier"`
	DividerValue      float64 `mapstructure:"divider_value" yaml:"divider_value"`
	DACResolution     float64 `mapstructure:"dac_resolution" yaml:"dac_resolution"`
	DACMax            float64 `mapstructure:"dac_max" yaml:"dac_max"`
	// FullChargeMV is the voltage reported for a full battery.
	FullChargeMV int `mapstructure:"full_charge_mv" yaml:"full_charge_mv"`
	// EmptyMV is the voltage treated as 0%. It matches the battery shutdown threshold.
	EmptyMV int `mapstructure:"empty_mv" yaml:"empty_mv"`
}

// DefaultCalibration returns the constants for the reference board.
func DefaultCalibration() Calibration {
	return Calibration{
		VoltageScale:      203.5,
		CurrentScale:      640.0,
		DividerMultiplier: 4.0,
		DividerValue:      1000.0,
		DACResolution:     33.0,
		DACMax:            1023.0,
		FullChargeMV:      420,
		EmptyMV:           320,
	}
}

// VoltageMV converts a raw 'V' reading.
// The result is truncated toward zero.
func (c Calibration) VoltageMV(raw int) int {
	num := float64(raw)*c.VoltageScale*c.DACResolution + c.DACMax*5
	den := (c.DACResolution * c.DividerValue) / c.DividerMultiplier
	return int(num / den)
}

// CurrentMA converts a raw 'C' reading.
func (c Calibration) CurrentMA(raw int) int {
	return int(float64(raw) * (c.DACResolution / (c.DACMax * 10)) * c.CurrentScale)
}

// BatteryPercent maps a converted voltage onto 0-100 between EmptyMV and FullChargeMV.
func (c Calibration) BatteryPercent(mv int) int {
	span := c.FullChargeMV - c.EmptyMV
	if span <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(mv-c.EmptyMV) / float64(span)))
	return clamp(pct, 0, 100)
}

func clamp(n, lo, hi int) int {
	return max(min(hi, n), lo)
}
