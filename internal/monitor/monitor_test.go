package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeRenderer struct {
	stops int
	err   error
}

func (f *fakeRenderer) Stop() error {
	f.stops++
	return f.err
}

type harness struct {
	channel  *mcu.FakeChannel
	pins     *gpio.FakePins
	temp     *thermal.FakeSource
	display  *osd.FakeDisplay
	power    *power.FakeShutdowner
	renderer *fakeRenderer
	overlay  *overlay.FakeLauncher
	mqtt     *mqtt.FakePublisher
	tracker  *status.Tracker
	history  *history.FakeRecorder
	clock    time.Time
}

func testConfig() Config {
	return Config{
		Calibration: units.DefaultCalibration(),
		Battery:     logic.BatteryConfig{LowMV: 330, ShutdownMV: 320, RecoveryMarginMV: 4},
		Thermal:     logic.ThermalConfig{MaxC: 60, RecoveryMarginC: 5},
	}
}

// newHarness scripts a healthy device: full battery, cool CPU, debug overlay on.
func newHarness() *harness {
	return &harness{
		channel: mcu.NewFakeChannel().
			Values(mcu.CmdVoltage, 500).
			Values(mcu.CmdCurrent, 100).
			Values(mcu.CmdModeInfo, 1).
			Values(mcu.CmdWifi, 0).
			Values(mcu.CmdMute, 0),
		pins:     gpio.NewFakePins(false),
		temp:     &thermal.FakeSource{Values: []float64{45}},
		display:  &osd.FakeDisplay{},
		power:    &power.FakeShutdowner{},
		renderer: &fakeRenderer{},
		overlay:  &overlay.FakeLauncher{},
		mqtt:     mqtt.NewFakePublisher(),
		tracker:  status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{}),
		history:  &history.FakeRecorder{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (h *harness) now() time.Time {
	h.clock = h.clock.Add(3 * time.Second)
	return h.clock
}

func (h *harness) build(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := New(cfg, Deps{
		Channel:     h.channel,
		Pins:        h.pins,
		Temperature: h.temp,
		Display:     h.display,
		Power:       h.power,
		Renderer:    h.renderer,
		Overlay:     h.overlay,
		Telemetry:   h.mqtt,
		MQTTStatus:  h.mqtt,
		Status:      h.tracker,
		History:     h.history,
		Logger:      zerolog.Nop(),
		Now:         h.now,
	})
	require.NoError(t, err)
	return m
}

func cycles(t *testing.T, m *Monitor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.Equal(t, ReasonNone, m.Cycle(context.Background()), "cycle %d", i+1)
	}
}

func TestNewRequiresCoreDeps(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestNewRejectsBadThresholds(t *testing.T) {
	h := newHarness()
	cfg := testConfig()
	cfg.Battery.RecoveryMarginMV = 0
	_, err := New(cfg, Deps{Channel: h.channel, Pins: h.pins, Temperature: h.temp, Display: h.display, Power: h.power})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Thermal.RecoveryMarginC = -1
	_, err = New(cfg, Deps{Channel: h.channel, Pins: h.pins, Temperature: h.temp, Display: h.display, Power: h.power})
	assert.Error(t, err)
}

func TestCycleReadsAndPublishesEverything(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdWifi] = []mcu.Reply{{Value: 2}}
	h.channel.Replies[mcu.CmdMute] = []mcu.Reply{{Value: 1}}
	m := h.build(t, testConfig())

	cycles(t, m, 1)

	require.Len(t, h.display.Readings, 1)
	r := h.display.Readings[0]
	assert.Equal(t, 407, r.VoltageMV)
	assert.Equal(t, 87, r.BatteryPercent)
	assert.Equal(t, 206, r.CurrentMA)
	assert.Equal(t, 45.0, r.CPUTempC)
	assert.Equal(t, 1, r.ModeInfo)
	assert.Equal(t, 2, r.WifiMode)
	assert.Equal(t, 1, r.MuteMode)
	assert.True(t, r.HasVoltage)
	assert.True(t, r.HasTemperature)
	assert.Equal(t, logic.BatteryNormal, r.Battery)
	assert.Equal(t, logic.ThermalNormal, r.Thermal)

	// The cycle order is voltage, then pins and temperature, then current and flags.
	assert.Equal(t, []mcu.Command{mcu.CmdVoltage, mcu.CmdCurrent, mcu.CmdModeInfo, mcu.CmdWifi, mcu.CmdMute}, h.channel.Requests)
	assert.Equal(t, 1, h.pins.ShutdownReads)
	assert.Equal(t, 1, h.pins.LowBatteryReads)
	assert.Equal(t, 1, h.temp.Reads)

	assert.Len(t, h.mqtt.Readings, 1)
	assert.Len(t, h.history.Readings, 1)
	assert.Equal(t, int64(1), h.tracker.Snapshot().Cycles)
	assert.Empty(t, h.pins.OverTempWrites, "pin is not written without a transition")
}

func TestBatteryScenario(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = nil
	h.channel.Values(mcu.CmdVoltage, 500, 200, 200, 600)
	m := h.build(t, testConfig())

	var states []logic.BatteryState
	var volts []int
	for i := 0; i < 4; i++ {
		cycles(t, m, 1)
		states = append(states, m.Last().Battery)
		volts = append(volts, m.Last().VoltageMV)
	}

	assert.Equal(t, []int{407, 163, 163, 489}, volts)
	assert.Equal(t, []logic.BatteryState{logic.BatteryNormal, logic.BatteryLow, logic.BatteryLow, logic.BatteryNormal}, states)

	var types []logic.EventType
	for _, e := range h.mqtt.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []logic.EventType{logic.EventBatteryLow, logic.EventBatteryCritical, logic.EventBatteryOK}, types)
	assert.Equal(t, logic.EventCounts{BatteryLow: 1, BatteryCritical: 1, BatteryOK: 1}, m.Counts())
	assert.Len(t, h.history.Events, 3)
	assert.Zero(t, h.power.Calls, "critical battery only logs by default")
}

func TestCriticalBatteryReportedOnce(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = []mcu.Reply{{Value: 200}}
	m := h.build(t, testConfig())

	cycles(t, m, 6)

	assert.Equal(t, logic.EventCounts{BatteryLow: 1, BatteryCritical: 1}, m.Counts())
	assert.Len(t, h.mqtt.Events, 2)
	assert.Len(t, h.history.Events, 2)
	assert.Len(t, h.display.Readings, 6)
}

func TestBatteryHysteresisAcrossCycles(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = nil
	// 401 -> 327 mV, 408 -> 332 mV, 413 -> 336 mV
	h.channel.Values(mcu.CmdVoltage, 401, 408, 413)
	m := h.build(t, testConfig())

	cycles(t, m, 1)
	require.Equal(t, 327, m.Last().VoltageMV)
	assert.Equal(t, logic.BatteryLow, m.Last().Battery)

	cycles(t, m, 1)
	require.Equal(t, 332, m.Last().VoltageMV)
	assert.Equal(t, logic.BatteryLow, m.Last().Battery, "above low but within the recovery margin")

	cycles(t, m, 1)
	require.Equal(t, 336, m.Last().VoltageMV)
	assert.Equal(t, logic.BatteryNormal, m.Last().Battery)
}

func TestThermalScenarioDrivesIndicator(t *testing.T) {
	h := newHarness()
	h.temp.Values = []float64{55, 61, 58, 54}
	m := h.build(t, testConfig())

	pin := []bool{h.pins.OverTemp}
	var states []logic.ThermalState
	for i := 0; i < 4; i++ {
		cycles(t, m, 1)
		pin = append(pin, h.pins.OverTemp)
		states = append(states, m.Last().Thermal)
	}

	assert.Equal(t, []bool{false, false, true, true, false}, pin)
	assert.Equal(t, []logic.ThermalState{logic.ThermalNormal, logic.ThermalOver, logic.ThermalOver, logic.ThermalNormal}, states)
	assert.Equal(t, []bool{true, false}, h.pins.OverTempWrites, "written only on transitions")
	assert.Equal(t, 1, m.Counts().OverTemp)
	assert.Equal(t, 1, m.Counts().TempOK)
}

func TestIndicatorWriteRetriedAfterFailure(t *testing.T) {
	h := newHarness()
	h.temp.Values = []float64{65}
	h.pins.WriteError = errors.New("line busy")
	m := h.build(t, testConfig())

	cycles(t, m, 1)
	assert.Equal(t, logic.ThermalOver, m.Last().Thermal)
	assert.False(t, h.pins.OverTemp)

	h.pins.WriteError = nil
	cycles(t, m, 1)
	assert.True(t, h.pins.OverTemp)
	assert.Equal(t, []bool{true}, h.pins.OverTempWrites)
}

func TestSerialTimeoutKeepsLoopRunning(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = nil
	h.channel.Script(mcu.CmdVoltage, mcu.Reply{Err: fmt.Errorf("request V: %w", mcu.ErrTimeout)})
	h.channel.Values(mcu.CmdVoltage, 500)
	m := h.build(t, testConfig())

	cycles(t, m, 1)
	require.Len(t, h.display.Readings, 1)
	first := h.display.Readings[0]
	assert.False(t, first.HasVoltage, "no voltage yet, placeholder stays")
	assert.True(t, first.HasTemperature, "rest of the cycle still ran")
	assert.Equal(t, logic.BatteryNormal, first.Battery)

	cycles(t, m, 1)
	assert.Equal(t, 2, h.channel.Count(mcu.CmdVoltage), "next cycle re-reads")
	assert.Equal(t, 407, m.Last().VoltageMV)
	assert.True(t, m.Last().HasVoltage)
}

func TestStaleValueCarriedOverWithoutEvaluation(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = nil
	h.channel.Values(mcu.CmdVoltage, 200)
	h.channel.Script(mcu.CmdVoltage, mcu.Reply{Err: fmt.Errorf("request V: %w", mcu.ErrProtocol)})
	h.channel.Replies[mcu.CmdCurrent] = []mcu.Reply{{Value: 100}, {Err: mcu.ErrTimeout}}
	h.temp.Values = nil
	m := h.build(t, testConfig())

	cycles(t, m, 2)

	require.Len(t, h.display.Readings, 2)
	second := h.display.Readings[1]
	assert.Equal(t, 163, second.VoltageMV, "previous voltage reused")
	assert.Equal(t, 206, second.CurrentMA, "previous current reused")
	assert.False(t, second.HasTemperature)
	assert.Equal(t, logic.EventCounts{BatteryLow: 1}, m.Counts(), "stale value is not re-evaluated")
}

func TestShutdownPinStopsFurtherReads(t *testing.T) {
	h := newHarness()
	h.pins.Shutdown = []bool{true}
	m := h.build(t, testConfig())

	reason := m.Cycle(context.Background())

	assert.Equal(t, ReasonShutdownPin, reason)
	assert.Equal(t, []mcu.Command{mcu.CmdVoltage}, h.channel.Requests)
	assert.Zero(t, h.temp.Reads)
	assert.Zero(t, h.pins.LowBatteryReads)
	assert.Empty(t, h.display.Readings)
	assert.Equal(t, 407, m.Last().VoltageMV, "battery machine already saw this cycle's voltage")
}

func TestShutdownPinReadErrorIsNotAShutdown(t *testing.T) {
	h := newHarness()
	h.pins.ReadError = errors.New("gpio gone")
	m := h.build(t, testConfig())

	cycles(t, m, 1)
	assert.Len(t, h.display.Readings, 1)
}

func TestLowBatteryPinIsObservational(t *testing.T) {
	h := newHarness()
	h.pins.LowBatterySignal = true
	m := h.build(t, testConfig())

	cycles(t, m, 1)
	assert.True(t, h.tracker.Snapshot().LowBatteryPin)
	assert.Equal(t, logic.BatteryNormal, m.Last().Battery)
	assert.Zero(t, m.Counts().BatteryLow)
}

func TestNotifyFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.display.Err = fmt.Errorf("%w: renderer gone", osd.ErrNotify)
	m := h.build(t, testConfig())

	cycles(t, m, 3)
	assert.Len(t, h.display.Readings, 3)
	assert.Len(t, h.mqtt.Readings, 3, "other sinks still fed")
}

func TestSinkFailuresAreNotFatal(t *testing.T) {
	h := newHarness()
	h.mqtt.PublishError = errors.New("broker down")
	h.history.Err = errors.New("disk full")
	h.channel.Replies[mcu.CmdVoltage] = []mcu.Reply{{Value: 200}}
	m := h.build(t, testConfig())

	cycles(t, m, 2)
	assert.Len(t, h.display.Readings, 2)
	assert.Equal(t, 1, m.Counts().BatteryLow)
}

func TestLowBatteryOverlay(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = nil
	h.channel.Values(mcu.CmdVoltage, 200, 600)
	cfg := testConfig()
	cfg.LowBatteryImage = "/home/pi/saio/lowbatt.png"
	m := h.build(t, cfg)

	cycles(t, m, 1)
	assert.Equal(t, []string{"/home/pi/saio/lowbatt.png"}, h.overlay.Images)
	assert.Equal(t, "/home/pi/saio/lowbatt.png", h.overlay.Visible)

	cycles(t, m, 1)
	assert.Equal(t, 1, h.overlay.Hides)
	assert.Empty(t, h.overlay.Visible)
}

func TestStartPublishesStartupAndPlaysVideo(t *testing.T) {
	h := newHarness()
	cfg := testConfig()
	cfg.StartupVideo = "/home/pi/saio/intro.mp4"
	m := h.build(t, cfg)

	m.Start()

	require.Len(t, h.mqtt.SystemEvents, 1)
	assert.Equal(t, "STARTUP", h.mqtt.SystemEvents[0].Event)
	assert.True(t, h.mqtt.SystemEvents[0].Retained)
	assert.Equal(t, []string{"/home/pi/saio/intro.mp4"}, h.overlay.Videos)
}

func TestRunTerminatesOnSignal(t *testing.T) {
	h := newHarness()
	m := h.build(t, testConfig())

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM

	outcome, err := m.Run(context.Background(), tick, sig)
	require.NoError(t, err)

	assert.Equal(t, Terminated, outcome)
	assert.Len(t, h.display.Readings, 1, "the in-flight cycle completes")
	assert.Zero(t, h.power.Calls)
	assert.Equal(t, 1, h.renderer.stops)
	assert.True(t, h.pins.Closed)
	assert.True(t, h.channel.Closed)

	require.Len(t, h.mqtt.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", h.mqtt.SystemEvents[0].Event)
	assert.Equal(t, "SIGTERM", h.mqtt.SystemEvents[0].Reason)
}

func TestRunSignalWinsOverPendingTick(t *testing.T) {
	h := newHarness()
	m := h.build(t, testConfig())

	tick := make(chan time.Time, 1)
	tick <- time.Now()
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGINT

	outcome, err := m.Run(context.Background(), tick, sig)
	require.NoError(t, err)
	assert.Equal(t, Terminated, outcome)
	assert.Len(t, h.display.Readings, 1)
}

func TestRunTerminatesOnContextCancel(t *testing.T) {
	h := newHarness()
	m := h.build(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := m.Run(ctx, make(chan time.Time), make(chan os.Signal))
	require.NoError(t, err)
	assert.Equal(t, Terminated, outcome)
	assert.True(t, h.pins.Closed)
}

func TestRunShutdownPin(t *testing.T) {
	h := newHarness()
	h.pins.Shutdown = []bool{false, false, true}
	m := h.build(t, testConfig())

	tick := make(chan time.Time, 5)
	for i := 0; i < 5; i++ {
		tick <- time.Now()
	}

	outcome, err := m.Run(context.Background(), tick, make(chan os.Signal))
	require.NoError(t, err)

	assert.Equal(t, ShutdownRequested, outcome)
	assert.Equal(t, 1, h.power.Calls)
	assert.Len(t, h.display.Readings, 2)
	assert.Equal(t, 3, h.channel.Count(mcu.CmdVoltage))
	assert.Equal(t, 2, h.channel.Count(mcu.CmdMute))
	assert.Equal(t, 1, h.renderer.stops)
	assert.True(t, h.pins.Closed)
	assert.True(t, h.channel.Closed)

	require.Len(t, h.mqtt.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN_PIN", h.mqtt.SystemEvents[0].Reason)
}

func TestRunShutdownFailureIsReported(t *testing.T) {
	h := newHarness()
	h.pins.Shutdown = []bool{true}
	h.power.Err = errors.New("sudo: not permitted")
	m := h.build(t, testConfig())

	outcome, err := m.Run(context.Background(), make(chan time.Time), make(chan os.Signal))
	assert.Equal(t, ShutdownRequested, outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not permitted")
	assert.True(t, h.pins.Closed, "I/O released even when the shutdown command fails")
}

func TestCriticalBatteryPolicy(t *testing.T) {
	h := newHarness()
	h.channel.Replies[mcu.CmdVoltage] = []mcu.Reply{{Value: 200}}
	cfg := testConfig()
	cfg.Battery.CriticalShutdown = true
	m := h.build(t, cfg)

	tick := make(chan time.Time, 5)
	for i := 0; i < 5; i++ {
		tick <- time.Now()
	}

	outcome, err := m.Run(context.Background(), tick, make(chan os.Signal))
	require.NoError(t, err)

	assert.Equal(t, ShutdownRequested, outcome)
	assert.Equal(t, 1, h.power.Calls)
	assert.Len(t, h.display.Readings, 1, "first cycle only trips LOW")
	assert.Equal(t, logic.EventCounts{BatteryLow: 1, BatteryCritical: 1}, m.Counts())
	require.Len(t, h.mqtt.SystemEvents, 1)
	assert.Equal(t, "BATTERY_CRITICAL", h.mqtt.SystemEvents[0].Reason)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness()
	m := h.build(t, testConfig())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, h.renderer.stops)
}

func TestCloseCollectsErrors(t *testing.T) {
	h := newHarness()
	h.renderer.err = errors.New("stuck")
	m := h.build(t, testConfig())

	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop renderer")
	assert.True(t, h.pins.Closed, "remaining resources still released")
	assert.True(t, h.channel.Closed)
}

func TestOptionalDepsMayBeNil(t *testing.T) {
	h := newHarness()
	m, err := New(testConfig(), Deps{
		Channel:     h.channel,
		Pins:        h.pins,
		Temperature: h.temp,
		Display:     h.display,
		Power:       h.power,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	m.Start()
	cycles(t, m, 2)
	require.NoError(t, m.Close())
	assert.Len(t, h.display.Readings, 2)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "shutdown requested", ShutdownRequested.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
