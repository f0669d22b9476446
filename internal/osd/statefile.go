// Package osd keeps the external on-screen-display renderer in sync.
// The renderer reads an INI state file and reloads it on SIGUSR1.
package osd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/sweeney/saio-monitor/internal/logic"
)

// ProtocolVersion is written to the [protocol] section.
const ProtocolVersion = 1

const (
	placeholderVoltage     = "-.--"
	placeholderTemperature = "--.-"
)

// StateFile renders readings into the renderer's INI file.
type StateFile struct {
	Path string
}

// Render returns the complete file content for r.
// Equal readings render to identical bytes; the timestamp is not written.
func Render(r logic.Reading) ([]byte, error) {
	f := ini.Empty()

	protocol, err := f.NewSection("protocol")
	if err != nil {
		return nil, err
	}
	if _, err := protocol.NewKey("version", strconv.Itoa(ProtocolVersion)); err != nil {
		return nil, err
	}

	data, err := f.NewSection("data")
	if err != nil {
		return nil, err
	}
	voltage := placeholderVoltage
	if r.HasVoltage {
		voltage = strconv.Itoa(r.VoltageMV)
	}
	temperature := placeholderTemperature
	if r.HasTemperature {
		temperature = strconv.FormatFloat(r.CPUTempC, 'f', 1, 64)
	}
	for _, kv := range [][2]string{
		{"voltage", voltage},
		{"current", strconv.Itoa(r.CurrentMA)},
		{"temperature", temperature},
		{"showdebug", strconv.Itoa(r.ModeInfo)},
		{"showwifi", strconv.Itoa(r.WifiMode)},
		{"showmute", strconv.Itoa(r.MuteMode)},
	} {
		if _, err := data.NewKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write replaces the state file atomically: the content goes to a temporary
// file in the same directory which is then renamed over the real path.
func (s *StateFile) Write(r logic.Reading) error {
	content, err := Render(r)
	if err != nil {
		return fmt.Errorf("render state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
