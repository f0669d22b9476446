// Package monitor runs the fixed-period control loop: poll the
// microcontroller, evaluate the battery and thermal machines, drive the
// indicator pin, publish to the display and watch for shutdown.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/saio-monitor/internal/gpio"
	"github.com/sweeney/saio-monitor/internal/history"
	"github.com/sweeney/saio-monitor/internal/logic"
	"github.com/sweeney/saio-monitor/internal/mcu"
	"github.com/sweeney/saio-monitor/internal/mqtt"
	"github.com/sweeney/saio-monitor/internal/osd"
	"github.com/sweeney/saio-monitor/internal/overlay"
	"github.com/sweeney/saio-monitor/internal/power"
	"github.com/sweeney/saio-monitor/internal/status"
	"github.com/sweeney/saio-monitor/internal/thermal"
	"github.com/sweeney/saio-monitor/internal/units"
)

// Outcome is how Run ended.
type Outcome int

const (
	// Terminated means a signal stopped the loop. The host keeps running.
	Terminated Outcome = iota + 1
	// ShutdownRequested means the host shutdown was invoked.
	ShutdownRequested
)

func (o Outcome) String() string {
	switch o {
	case Terminated:
		return "terminated"
	case ShutdownRequested:
		return "shutdown requested"
	default:
		return "unknown"
	}
}

// Reason says why a cycle asked for a host shutdown. Empty means keep going.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonShutdownPin     Reason = "SHUTDOWN_PIN"
	ReasonCriticalBattery Reason = "BATTERY_CRITICAL"
)

// Config holds the thresholds and overlay files used by the loop.
type Config struct {
	Calibration     units.Calibration
	Battery         logic.BatteryConfig
	Thermal         logic.ThermalConfig
	StartupVideo    string
	LowBatteryImage string
}

// Stopper stops the external renderer.
type Stopper interface {
	Stop() error
}

// Deps are the collaborators of the loop. Channel, Pins, Temperature,
// Display and Power are required; the rest may be nil.
type Deps struct {
	Channel     mcu.Channel
	Pins        gpio.Pins
	Temperature thermal.Source
	Display     osd.Display
	Power       power.Shutdowner

	Renderer   Stopper
	Overlay    overlay.Launcher
	Telemetry  mqtt.Publisher
	MQTTStatus mqtt.ConnectionStatus
	Status     *status.Tracker
	History    history.Recorder

	Logger zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor owns all loop state. It is not safe for concurrent use.
type Monitor struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	battery *logic.BatteryMachine
	thermal *logic.ThermalMachine

	last       logic.Reading
	counts     logic.EventCounts
	lowPin     bool
	pinOver    bool
	imageShown bool
	closed     bool
}

// New validates the thresholds and returns a Monitor in the initial state.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Channel == nil || deps.Pins == nil || deps.Temperature == nil || deps.Display == nil || deps.Power == nil {
		return nil, errors.New("monitor: channel, pins, temperature, display and power are required")
	}
	battery, err := logic.NewBatteryMachine(cfg.Battery)
	if err != nil {
		return nil, err
	}
	therm, err := logic.NewThermalMachine(cfg.Thermal)
	if err != nil {
		return nil, err
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		now:     now,
		battery: battery,
		thermal: therm,
		last:    logic.InitialReading(),
	}, nil
}

// Last returns the most recent reading.
func (m *Monitor) Last() logic.Reading {
	return m.last
}

// Counts returns the number of events of each type since startup.
func (m *Monitor) Counts() logic.EventCounts {
	return m.counts
}

// Start announces the daemon and plays the startup video when configured.
func (m *Monitor) Start() {
	m.publishSystem("STARTUP", "")
	if m.deps.Overlay != nil && m.cfg.StartupVideo != "" {
		if err := m.deps.Overlay.ShowVideo(m.cfg.StartupVideo); err != nil {
			m.log.Warn().Err(err).Str("path", m.cfg.StartupVideo).Msg("startup video failed")
		}
	}
}

// Cycle runs one full polling sequence. Sensor failures are logged and the
// previous value is carried over; the state machines only see validated
// readings. A non-empty Reason means the host must shut down and the
// remaining steps of the cycle were skipped.
func (m *Monitor) Cycle(ctx context.Context) Reason {
	now := m.now()
	r := m.last
	r.Timestamp = now

	if raw, ok := m.request(mcu.CmdVoltage); ok {
		mv := m.cfg.Calibration.VoltageMV(raw)
		r.VoltageMV = mv
		r.BatteryPercent = m.cfg.Calibration.BatteryPercent(mv)
		r.HasVoltage = true
		m.log.Debug().Int("raw", raw).Int("voltage_mv", mv).Msg("voltage")

		critical := false
		for _, e := range m.battery.Process(mv, now) {
			m.dispatch(e)
			if e.Type == logic.EventBatteryCritical {
				critical = true
			}
		}
		if !critical && m.battery.Critical() {
			m.log.Debug().Int("voltage_mv", mv).Msg("battery still below shutdown threshold")
		}
		if critical && m.cfg.Battery.CriticalShutdown {
			r.Battery = m.battery.State()
			m.last = r
			return ReasonCriticalBattery
		}
	}
	r.Battery = m.battery.State()

	requested, err := m.deps.Pins.ShutdownRequested()
	if err != nil {
		m.log.Warn().Err(err).Msg("read shutdown pin")
	} else if requested {
		m.last = r
		m.log.Info().Msg("shutdown pin asserted")
		return ReasonShutdownPin
	}

	if low, err := m.deps.Pins.LowBattery(); err != nil {
		m.log.Warn().Err(err).Msg("read low battery pin")
	} else {
		if low != m.lowPin {
			m.log.Info().Bool("asserted", low).Msg("low battery pin changed")
		}
		m.lowPin = low
	}

	if c, err := m.deps.Temperature.Read(ctx); err != nil {
		m.log.Warn().Err(err).Msg("read cpu temperature")
	} else {
		r.CPUTempC = c
		r.HasTemperature = true
		m.log.Debug().Float64("cpu_temp_c", c).Msg("temperature")
		for _, e := range m.thermal.Process(c, now) {
			m.dispatch(e)
		}
	}
	r.Thermal = m.thermal.State()
	m.syncOverTempPin()

	if raw, ok := m.request(mcu.CmdCurrent); ok {
		r.CurrentMA = m.cfg.Calibration.CurrentMA(raw)
		m.log.Debug().Int("raw", raw).Int("current_ma", r.CurrentMA).Msg("current")
	}
	if v, ok := m.request(mcu.CmdModeInfo); ok {
		r.ModeInfo = v
	}
	if v, ok := m.request(mcu.CmdWifi); ok {
		r.WifiMode = v
	}
	if v, ok := m.request(mcu.CmdMute); ok {
		r.MuteMode = v
	}

	m.last = r
	m.publish(r)
	return ReasonNone
}

// Run executes a cycle immediately and then one per tick until a signal
// arrives, ctx is cancelled or a cycle requests a host shutdown. Signals are
// only observed between cycles.
func (m *Monitor) Run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) (Outcome, error) {
	for {
		if reason := m.Cycle(ctx); reason != ReasonNone {
			return m.shutdown(ctx, reason)
		}

		select {
		case s := <-sig:
			return m.terminate(signalName(s))
		case <-ctx.Done():
			return m.terminate("CONTEXT")
		case <-tick:
		}

		// A signal that raced the tick wins.
		select {
		case s := <-sig:
			return m.terminate(signalName(s))
		default:
		}
	}
}

// Close stops the renderer, hides overlays and releases the serial port and
// GPIO lines. It is safe to call more than once.
func (m *Monitor) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.deps.Renderer != nil {
		if err := m.deps.Renderer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop renderer: %w", err))
		}
	}
	if m.deps.Overlay != nil && m.imageShown {
		if err := m.deps.Overlay.HideImage(); err != nil {
			errs = append(errs, fmt.Errorf("hide overlay: %w", err))
		}
	}
	if err := m.deps.Pins.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gpio: %w", err))
	}
	if err := m.deps.Channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close serial: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Monitor) terminate(reason string) (Outcome, error) {
	m.log.Info().Str("reason", reason).Msg("terminating")
	m.publishSystem("SHUTDOWN", reason)
	if err := m.Close(); err != nil {
		m.log.Warn().Err(err).Msg("cleanup")
	}
	return Terminated, nil
}

func (m *Monitor) shutdown(ctx context.Context, reason Reason) (Outcome, error) {
	m.log.Warn().Str("reason", string(reason)).Msg("shutting down host")
	m.publishSystem("SHUTDOWN", string(reason))

	err := m.deps.Power.Shutdown(ctx)
	if cerr := m.Close(); cerr != nil {
		m.log.Warn().Err(cerr).Msg("cleanup")
	}
	if err != nil {
		return ShutdownRequested, fmt.Errorf("host shutdown: %w", err)
	}
	return ShutdownRequested, nil
}

// request performs one serial exchange and logs failures.
func (m *Monitor) request(cmd mcu.Command) (int, bool) {
	v, err := m.deps.Channel.Request(cmd)
	if err == nil {
		return v, true
	}
	ev := m.log.Warn().Err(err).Str("command", cmd.String())
	switch {
	case errors.Is(err, mcu.ErrTimeout):
		ev.Msg("serial timeout, keeping previous value")
	case errors.Is(err, mcu.ErrProtocol):
		ev.Msg("malformed serial reply, keeping previous value")
	default:
		ev.Msg("serial error, keeping previous value")
	}
	return 0, false
}

// syncOverTempPin drives the indicator to the thermal state. The pin is only
// written when it differs, so a failed write is retried next cycle.
func (m *Monitor) syncOverTempPin() {
	want := m.thermal.Over()
	if want == m.pinOver {
		return
	}
	if err := m.deps.Pins.SetOverTemp(want); err != nil {
		m.log.Error().Err(err).Bool("level", want).Msg("set overtemp pin")
		return
	}
	m.pinOver = want
}

// dispatch logs, counts and forwards one threshold event.
func (m *Monitor) dispatch(e logic.Event) {
	m.counts.Add(e.Type)

	var ev *zerolog.Event
	switch e.Type {
	case logic.EventBatteryOK, logic.EventTempOK:
		ev = m.log.Info()
	default:
		ev = m.log.Warn()
	}
	ev.Str("event", string(e.Type)).Float64("value", e.Value).Msg("threshold event")

	if m.deps.Overlay != nil && m.cfg.LowBatteryImage != "" {
		var err error
		switch e.Type {
		case logic.EventBatteryLow:
			err = m.deps.Overlay.ShowImage(m.cfg.LowBatteryImage)
			m.imageShown = err == nil
		case logic.EventBatteryOK:
			if m.imageShown {
				err = m.deps.Overlay.HideImage()
				m.imageShown = false
			}
		}
		if err != nil {
			m.log.Warn().Err(err).Str("event", string(e.Type)).Msg("overlay")
		}
	}

	if m.deps.Telemetry != nil {
		if err := m.deps.Telemetry.Publish(e); err != nil {
			m.log.Warn().Err(err).Msg("publish event")
		}
	}
	if m.deps.History != nil {
		if err := m.deps.History.RecordEvent(e); err != nil {
			m.log.Warn().Err(err).Msg("record event")
		}
	}
}

// publish hands the finished reading to every sink. Only the display is
// part of the cycle contract; the rest are best effort.
func (m *Monitor) publish(r logic.Reading) {
	if err := m.deps.Display.Publish(r); err != nil {
		if errors.Is(err, osd.ErrNotify) {
			m.log.Warn().Err(err).Msg("renderer notify failed")
		} else {
			m.log.Error().Err(err).Msg("publish display state")
		}
	}

	if m.deps.Telemetry != nil {
		if err := m.deps.Telemetry.PublishReading(r); err != nil {
			m.log.Warn().Err(err).Msg("publish reading")
		}
	}
	if m.deps.Status != nil {
		m.deps.Status.Update(r, m.lowPin, m.counts)
		if m.deps.MQTTStatus != nil {
			m.deps.Status.SetMQTTConnected(m.deps.MQTTStatus.IsConnected())
		}
	}
	if m.deps.History != nil {
		if err := m.deps.History.Record(r); err != nil {
			m.log.Warn().Err(err).Msg("record reading")
		}
	}
}

func (m *Monitor) publishSystem(event, reason string) {
	if m.deps.Telemetry == nil {
		return
	}
	err := m.deps.Telemetry.PublishSystem(mqtt.SystemEvent{
		Timestamp: m.now(),
		Event:     event,
		Reason:    reason,
		Retained:  true,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("publish system event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGHUP:
		return "SIGHUP"
	}
	return "UNKNOWN"
}
