//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealPins drives GPIO on actual hardware using Linux GPIO character device.
type RealPins struct {
	chip       *gpiocdev.Chip
	shutdown   *gpiocdev.Line
	lowBattery *gpiocdev.Line
	overTemp   *gpiocdev.Line
	activeLow  bool
}

// NewRealPins requests the two inputs and the output line. The output starts low.
func NewRealPins(cfg Config) (*RealPins, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}

	shutdown, err := chip.RequestLine(cfg.ShutdownPin, gpiocdev.AsInput)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request shutdown pin %d: %w", cfg.ShutdownPin, err)
	}

	lowBattery, err := chip.RequestLine(cfg.LowBatteryPin, gpiocdev.AsInput)
	if err != nil {
		shutdown.Close()
		chip.Close()
		return nil, fmt.Errorf("request low battery pin %d: %w", cfg.LowBatteryPin, err)
	}

	overTemp, err := chip.RequestLine(cfg.OverTempPin, gpiocdev.AsOutput(0))
	if err != nil {
		lowBattery.Close()
		shutdown.Close()
		chip.Close()
		return nil, fmt.Errorf("request overtemp pin %d: %w", cfg.OverTempPin, err)
	}

	return &RealPins{
		chip:       chip,
		shutdown:   shutdown,
		lowBattery: lowBattery,
		overTemp:   overTemp,
		activeLow:  cfg.ShutdownActiveLow,
	}, nil
}

// ShutdownRequested reads the shutdown-request input.
func (p *RealPins) ShutdownRequested() (bool, error) {
	raw, err := p.shutdown.Value()
	if err != nil {
		return false, fmt.Errorf("read shutdown pin: %w", err)
	}
	return asserted(raw, p.activeLow), nil
}

// LowBattery reads the low-battery input.
func (p *RealPins) LowBattery() (bool, error) {
	raw, err := p.lowBattery.Value()
	if err != nil {
		return false, fmt.Errorf("read low battery pin: %w", err)
	}
	return raw != 0, nil
}

// SetOverTemp drives the indicator output.
func (p *RealPins) SetOverTemp(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := p.overTemp.SetValue(v); err != nil {
		return fmt.Errorf("set overtemp pin: %w", err)
	}
	return nil
}

// Close releases GPIO resources.
// The indicator is driven low and every line is returned to a plain input
// before release so the pins are left in their boot-time state.
func (p *RealPins) Close() error {
	var errs []error

	if p.overTemp != nil {
		if err := p.overTemp.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear overtemp pin: %w", err))
		}
		if err := p.overTemp.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure overtemp pin: %w", err))
		}
		if err := p.overTemp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close overtemp pin: %w", err))
		}
	}
	for name, l := range map[string]*gpiocdev.Line{"shutdown": p.shutdown, "low battery": p.lowBattery} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
