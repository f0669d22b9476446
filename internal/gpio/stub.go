//go:build !linux

package gpio

import "errors"

// RealPins is not available on non-Linux platforms.
type RealPins struct{}

// NewRealPins returns an error on non-Linux platforms.
func NewRealPins(Config) (*RealPins, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// ShutdownRequested is not implemented on non-Linux platforms.
func (p *RealPins) ShutdownRequested() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// LowBattery is not implemented on non-Linux platforms.
func (p *RealPins) LowBattery() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// SetOverTemp is not implemented on non-Linux platforms.
func (p *RealPins) SetOverTemp(bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *RealPins) Close() error {
	return nil
}
