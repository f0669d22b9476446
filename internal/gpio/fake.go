package gpio

// FakePins is a test double with scripted inputs that records output writes.
type FakePins struct {
	// Shutdown contains scripted shutdown-request values.
	// Each call to ShutdownRequested() consumes the next value; the last repeats.
	Shutdown []bool

	// LowBatterySignal is returned by LowBattery().
	LowBatterySignal bool

	// OverTemp is the current level of the indicator output.
	OverTemp bool

	// OverTempWrites records every value passed to SetOverTemp.
	OverTempWrites []bool

	// ShutdownReads counts calls to ShutdownRequested.
	ShutdownReads int

	// LowBatteryReads counts calls to LowBattery.
	LowBatteryReads int

	// ReadError, if set, is returned by the input reads.
	ReadError error

	// WriteError, if set, is returned by SetOverTemp.
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakePins creates FakePins with the given shutdown-request script.
func NewFakePins(shutdown ...bool) *FakePins {
	return &FakePins{Shutdown: shutdown}
}

// ShutdownRequested returns the next scripted value.
// With no script it reports "not requested".
func (f *FakePins) ShutdownRequested() (bool, error) {
	f.ShutdownReads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Shutdown) == 0 {
		return false, nil
	}
	v := f.Shutdown[0]
	if len(f.Shutdown) > 1 {
		f.Shutdown = f.Shutdown[1:]
	}
	return v, nil
}

// LowBattery returns LowBatterySignal.
func (f *FakePins) LowBattery() (bool, error) {
	f.LowBatteryReads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.LowBatterySignal, nil
}

// SetOverTemp records the write.
func (f *FakePins) SetOverTemp(on bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.OverTemp = on
	f.OverTempWrites = append(f.OverTempWrites, on)
	return nil
}

// Close marks the pins as closed and drops the output, like the real driver.
func (f *FakePins) Close() error {
	f.OverTemp = false
	f.Closed = true
	return nil
}
