// Package config loads daemon configuration from flags, an optional YAML
// file and SAIO_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/saio-monitor/internal/gpio"
	"github.com/sweeney/saio-monitor/internal/logic"
	"github.com/sweeney/saio-monitor/internal/mcu"
	"github.com/sweeney/saio-monitor/internal/osd"
	"github.com/sweeney/saio-monitor/internal/overlay"
	"github.com/sweeney/saio-monitor/internal/power"
	"github.com/sweeney/saio-monitor/internal/thermal"
	"github.com/sweeney/saio-monitor/internal/units"
)

// DefaultPath is read when --config is not given. Its absence is not an error.
const DefaultPath = "/etc/saio-monitor.yaml"

// EnvPrefix prefixes environment overrides, e.g. SAIO_LOOP_PERIOD=5s.
const EnvPrefix = "SAIO"

// MinPeriod is the shortest accepted cycle period.
const MinPeriod = time.Second

type SerialConfig struct {
	Port        string        `mapstructure:"port" yaml:"port"`
	Baud        int           `mapstructure:"baud" yaml:"baud"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

type LoopConfig struct {
	Period time.Duration `mapstructure:"period" yaml:"period"`
}

// ThermalConfig combines the temperature source with its thresholds.
type ThermalConfig struct {
	MaxC            float64 `mapstructure:"max_c" yaml:"max_c"`
	RecoveryMarginC float64 `mapstructure:"recovery_margin_c" yaml:"recovery_margin_c"`
	Source          string  `mapstructure:"source" yaml:"source"`
	Command         string  `mapstructure:"command" yaml:"command"`
	SensorKey       string  `mapstructure:"sensor_key" yaml:"sensor_key"`
}

// Limits returns the over-temperature thresholds.
func (t ThermalConfig) Limits() logic.ThermalConfig {
	return logic.ThermalConfig{MaxC: t.MaxC, RecoveryMarginC: t.RecoveryMarginC}
}

// Reader returns the temperature source settings.
func (t ThermalConfig) Reader() thermal.Config {
	return thermal.Config{Source: t.Source, Command: t.Command, SensorKey: t.SensorKey}
}

type MQTTConfig struct {
	// Broker is the MQTT broker URL. Empty disables telemetry.
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

type HTTPConfig struct {
	// Addr is the status server listen address. Empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the complete daemon configuration.
type Config struct {
	Serial      SerialConfig        `mapstructure:"serial" yaml:"serial"`
	Loop        LoopConfig          `mapstructure:"loop" yaml:"loop"`
	Calibration units.Calibration   `mapstructure:"calibration" yaml:"calibration"`
	Battery     logic.BatteryConfig `mapstructure:"battery" yaml:"battery"`
	Thermal     ThermalConfig       `mapstructure:"thermal" yaml:"thermal"`
	GPIO        gpio.Config         `mapstructure:"gpio" yaml:"gpio"`
	OSD         osd.RendererConfig  `mapstructure:"osd" yaml:"osd"`
	Overlay     overlay.Config      `mapstructure:"overlay" yaml:"overlay"`
	Power       power.Config        `mapstructure:"power" yaml:"power"`
	MQTT        MQTTConfig          `mapstructure:"mqtt" yaml:"mqtt"`
	HTTP        HTTPConfig          `mapstructure:"http" yaml:"http"`
	History     HistoryConfig       `mapstructure:"history" yaml:"history"`
	Logging     LoggingConfig       `mapstructure:"logging" yaml:"logging"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
	// PrintConfig asks the caller to dump the effective config and exit.
	PrintConfig bool `mapstructure:"-" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "/dev/ttyACM0")
	v.SetDefault("serial.baud", mcu.DefaultBaudRate)
	v.SetDefault("serial.read_timeout", mcu.DefaultReadTimeout)

	v.SetDefault("loop.period", 3*time.Second)

	cal := units.DefaultCalibration()
	v.SetDefault("calibration.voltage_scale", cal.VoltageScale)
	v.SetDefault("calibration.current_scale", cal.CurrentScale)
	v.SetDefault("calibration.divider_multiplier", cal.DividerMultiplier)
	v.SetDefault("calibration.divider_value", cal.DividerValue)
	v.SetDefault("calibration.dac_resolution", cal.DACResolution)
	v.SetDefault("calibration.dac_max", cal.DACMax)
	v.SetDefault("calibration.full_charge_mv", cal.FullChargeMV)
	v.SetDefault("calibration.empty_mv", cal.EmptyMV)

	v.SetDefault("battery.low_mv", 330)
	v.SetDefault("battery.shutdown_mv", 320)
	v.SetDefault("battery.recovery_margin_mv", 4)
	v.SetDefault("battery.critical_shutdown", false)

	v.SetDefault("thermal.max_c", 60.0)
	v.SetDefault("thermal.recovery_margin_c", 5.0)
	v.SetDefault("thermal.source", thermal.SourceVcgencmd)
	v.SetDefault("thermal.command", "vcgencmd")
	v.SetDefault("thermal.sensor_key", "cpu_thermal")

	pins := gpio.DefaultConfig()
	v.SetDefault("gpio.chip", pins.Chip)
	v.SetDefault("gpio.shutdown_pin", pins.ShutdownPin)
	v.SetDefault("gpio.low_battery_pin", pins.LowBatteryPin)
	v.SetDefault("gpio.overtemp_pin", pins.OverTempPin)
	v.SetDefault("gpio.shutdown_active_low", pins.ShutdownActiveLow)

	v.SetDefault("osd.binary", "/home/pi/saio/osd/osd")
	v.SetDefault("osd.data_file", "/home/pi/saio/osd/data.ini")
	v.SetDefault("osd.config_file", "/home/pi/saio/osd/config.ini")
	v.SetDefault("osd.start_grace", osd.DefaultStartGrace)
	v.SetDefault("osd.stop_timeout", osd.DefaultStopTimeout)

	ov := overlay.DefaultConfig()
	v.SetDefault("overlay.video_player", ov.VideoPlayer)
	v.SetDefault("overlay.image_viewer", ov.ImageViewer)
	v.SetDefault("overlay.startup_video", ov.StartupVideo)
	v.SetDefault("overlay.low_battery_image", ov.LowBatteryImage)

	pw := power.DefaultConfig()
	v.SetDefault("power.method", pw.Method)
	v.SetDefault("power.command", pw.Command)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "saio-monitor")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("history.path", "")
	v.SetDefault("history.retention", 7*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// flagBindings maps command-line flags to config keys.
var flagBindings = []struct {
	flag, key string
}{
	{"serial-port", "serial.port"},
	{"period", "loop.period"},
	{"mqtt-broker", "mqtt.broker"},
	{"http-addr", "http.addr"},
	{"history-db", "history.path"},
	{"log-level", "logging.level"},
	{"log-format", "logging.format"},
	{"critical-shutdown", "battery.critical_shutdown"},
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("saio-monitor", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("config", DefaultPath, "path to YAML config file")
	fs.Bool("print-config", false, "print the effective configuration and exit")
	fs.String("serial-port", "", "microcontroller serial device")
	fs.Duration("period", 0, "cycle period")
	fs.String("mqtt-broker", "", "MQTT broker URL (empty disables telemetry)")
	fs.String("http-addr", "", "status server listen address (empty disables it)")
	fs.String("history-db", "", "SQLite history database (empty disables history)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (console, json)")
	fs.Bool("critical-shutdown", false, "shut down when the battery reaches the shutdown threshold")
	return fs
}

// Usage returns the flag help text.
func Usage() string {
	return newFlagSet().FlagUsages()
}

// Load parses args (without the program name) and returns the validated config.
// Precedence: flags, environment, config file, defaults.
// A --help flag yields an error wrapping pflag.ErrHelp.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	configPath, _ := fs.GetString("config")
	printConfig, _ := fs.GetBool("print-config")

	v := viper.New()
	setDefaults(v)

	for _, b := range flagBindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", b.flag, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)
	file := configPath
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) || fs.Changed("config") {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		file = ""
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = file
	cfg.PrintConfig = printConfig

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port must be set"))
	}
	if c.Loop.Period < MinPeriod {
		errs = append(errs, fmt.Errorf("loop.period %s is below %s", c.Loop.Period, MinPeriod))
	}
	if c.Battery.RecoveryMarginMV <= 0 {
		errs = append(errs, fmt.Errorf("battery.recovery_margin_mv must be positive, got %d", c.Battery.RecoveryMarginMV))
	}
	if c.Battery.ShutdownMV >= c.Battery.LowMV {
		errs = append(errs, fmt.Errorf("battery.shutdown_mv %d must be below battery.low_mv %d", c.Battery.ShutdownMV, c.Battery.LowMV))
	}
	if c.Thermal.RecoveryMarginC <= 0 {
		errs = append(errs, fmt.Errorf("thermal.recovery_margin_c must be positive, got %g", c.Thermal.RecoveryMarginC))
	}
	if c.Calibration.DACMax <= 0 || c.Calibration.DACResolution <= 0 || c.Calibration.DividerValue <= 0 {
		errs = append(errs, errors.New("calibration dac_max, dac_resolution and divider_value must be positive"))
	}
	if c.Calibration.FullChargeMV <= c.Calibration.EmptyMV {
		errs = append(errs, fmt.Errorf("calibration.full_charge_mv %d must exceed calibration.empty_mv %d", c.Calibration.FullChargeMV, c.Calibration.EmptyMV))
	}
	pins := map[int]string{}
	for name, pin := range map[string]int{
		"gpio.shutdown_pin":    c.GPIO.ShutdownPin,
		"gpio.low_battery_pin": c.GPIO.LowBatteryPin,
		"gpio.overtemp_pin":    c.GPIO.OverTempPin,
	} {
		if other, dup := pins[pin]; dup {
			errs = append(errs, fmt.Errorf("%s and %s both use line %d", name, other, pin))
			continue
		}
		pins[pin] = name
	}
	if c.OSD.Binary == "" || c.OSD.DataFile == "" {
		errs = append(errs, errors.New("osd.binary and osd.data_file must be set"))
	}
	switch c.Power.Method {
	case power.MethodCommand:
		if len(c.Power.Command) == 0 {
			errs = append(errs, errors.New("power.command must be set for the command method"))
		}
	case power.MethodLogind:
	default:
		errs = append(errs, fmt.Errorf("unknown power.method %q", c.Power.Method))
	}
	switch c.Thermal.Source {
	case thermal.SourceVcgencmd, thermal.SourceSensors:
	default:
		errs = append(errs, fmt.Errorf("unknown thermal.source %q", c.Thermal.Source))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Print writes the effective configuration as YAML.
func (c *Config) Print(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
