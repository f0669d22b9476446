// Package gpio provides the digital I/O of the monitor with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Pins reads the two request inputs and drives the over-temperature output.
type Pins interface {
	// ShutdownRequested reports whether the shutdown-request input is asserted.
	ShutdownRequested() (bool, error)

	// LowBattery reports the auxiliary low-battery signal. Observational only.
	LowBattery() (bool, error)

	// SetOverTemp drives the over-temperature indicator output.
	SetOverTemp(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinLowBattery = 23
	DefaultPinShutdown   = 27
	DefaultPinOverTemp   = 26
)

// Config selects the chip, line offsets and input polarity.
type Config struct {
	Chip          string `mapstructure:"chip" yaml:"chip"`
	ShutdownPin   int    `mapstructure:"shutdown_pin" yaml:"shutdown_pin"`
	LowBatteryPin int    `mapstructure:"low_battery_pin" yaml:"low_battery_pin"`
	OverTempPin   int    `mapstructure:"overtemp_pin" yaml:"overtemp_pin"`
	// ShutdownActiveLow is true when a low level on the shutdown pin means "shut down".
	ShutdownActiveLow bool `mapstructure:"shutdown_active_low" yaml:"shutdown_active_low"`
}

// DefaultConfig returns the wiring of the reference board.
func DefaultConfig() Config {
	return Config{
		Chip:              "gpiochip0",
		ShutdownPin:       DefaultPinShutdown,
		LowBatteryPin:     DefaultPinLowBattery,
		OverTempPin:       DefaultPinOverTemp,
		ShutdownActiveLow: true,
	}
}

// asserted maps a raw line level to the logical shutdown request.
func asserted(raw int, activeLow bool) bool {
	if activeLow {
		return raw == 0
	}
	return raw != 0
}
