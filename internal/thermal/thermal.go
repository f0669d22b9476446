// Package thermal reads the host CPU temperature.
package thermal

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// Source returns the current CPU temperature in °C.
type Source interface {
	Read(ctx context.Context) (float64, error)
}

// ErrNoSensor is returned when the requested sensor key is not reported.
var ErrNoSensor = errors.New("thermal: sensor not found")

const (
	SourceVcgencmd = "vcgencmd"
	SourceSensors  = "sensors"

	// DefaultTimeout bounds one temperature read.
	DefaultTimeout = time.Second
)

// Config selects the temperature source.
type Config struct {
	Source    string `mapstructure:"source" yaml:"source"`
	Command   string `mapstructure:"command" yaml:"command"`
	SensorKey string `mapstructure:"sensor_key" yaml:"sensor_key"`
}

// New builds the Source named by cfg.Source.
func New(cfg Config) (Source, error) {
	switch cfg.Source {
	case SourceVcgencmd, "":
		return &Vcgencmd{Command: cfg.Command}, nil
	case SourceSensors:
		return &Sensors{Key: cfg.SensorKey}, nil
	default:
		return nil, fmt.Errorf("unknown temperature source %q", cfg.Source)
	}
}

// Vcgencmd runs `vcgencmd measure_temp` and parses its output.
type Vcgencmd struct {
	// Command overrides the vcgencmd binary path.
	Command string
}

// Read runs the command once.
func (v *Vcgencmd) Read(ctx context.Context) (float64, error) {
	bin := v.Command
	if bin == "" {
		bin = "vcgencmd"
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "measure_temp").Output()
	if err != nil {
		return 0, fmt.Errorf("run %s measure_temp: %w", bin, err)
	}
	return ParseMeasureTemp(string(out))
}

// ParseMeasureTemp parses output of the form "temp=48.3'C".
func ParseMeasureTemp(out string) (float64, error) {
	s := strings.TrimSpace(out)
	s = strings.TrimPrefix(s, "temp=")
	s = strings.TrimSuffix(s, "'C")
	c, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse measure_temp output %q: %w", out, err)
	}
	return c, nil
}

// Sensors reads kernel thermal sensors through gopsutil.
type Sensors struct {
	// Key selects a sensor by its SensorKey; empty picks the hottest sensor.
	Key string
}

// Read queries the sensors once.
func (s *Sensors) Read(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	stats, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(stats) == 0 {
		return 0, fmt.Errorf("read temperature sensors: %w", err)
	}
	return pick(stats, s.Key)
}

func pick(stats []host.TemperatureStat, key string) (float64, error) {
	found := false
	var best float64
	for _, st := range stats {
		if key != "" && st.SensorKey != key {
			continue
		}
		if !found || st.Temperature > best {
			best = st.Temperature
			found = true
		}
	}
	if !found {
		if key == "" {
			return 0, ErrNoSensor
		}
		return 0, fmt.Errorf("%w: %s", ErrNoSensor, key)
	}
	return best, nil
}

// FakeSource is a test double that returns scripted temperatures.
type FakeSource struct {
	Values []float64
	Err    error
	Reads  int
}

// Read returns the next scripted value; the last value repeats.
func (f *FakeSource) Read(context.Context) (float64, error) {
	f.Reads++
	if f.Err != nil {
		return 0, f.Err
	}
	if len(f.Values) == 0 {
		return 0, ErrNoSensor
	}
	v := f.Values[0]
	if len(f.Values) > 1 {
		f.Values = f.Values[1:]
	}
	return v, nil
}
