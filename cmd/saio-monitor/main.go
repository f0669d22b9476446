// Command saio-monitor polls the handheld's power microcontroller, drives the
// over-temperature indicator and keeps the on-screen display up to date.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sweeney/saio-monitor/internal/config"
	"github.com/sweeney/saio-monitor/internal/gpio"
	"github.com/sweeney/saio-monitor/internal/history"
	"github.com/sweeney/saio-monitor/internal/logger"
	"github.com/sweeney/saio-monitor/internal/logic"
	"github.com/sweeney/saio-monitor/internal/mcu"
	"github.com/sweeney/saio-monitor/internal/monitor"
	"github.com/sweeney/saio-monitor/internal/mqtt"
	"github.com/sweeney/saio-monitor/internal/osd"
	"github.com/sweeney/saio-monitor/internal/overlay"
	"github.com/sweeney/saio-monitor/internal/power"
	"github.com/sweeney/saio-monitor/internal/status"
	"github.com/sweeney/saio-monitor/internal/thermal"
	"github.com/sweeney/saio-monitor/internal/web"
)

const httpShutdownTimeout = 2 * time.Second

func main() {
	// Registered before any hardware or child process is touched so a signal
	// during startup still releases them.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err := run(os.Args[1:], os.Stdout, os.Stderr, sigCh)
	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
		fmt.Fprintf(os.Stderr, "Usage of saio-monitor:\n%s", config.Usage())
	default:
		log, _ := logger.New(logger.Options{IsService: logger.IsService()})
		log.Fatal().Err(err).Msg("fatal")
	}
}

// cleanup runs release functions in reverse order of registration.
type cleanup []func() error

func (c *cleanup) add(f func() error) {
	*c = append(*c, f)
}

func (c *cleanup) run(log zerolog.Logger) {
	for i := len(*c) - 1; i >= 0; i-- {
		if err := (*c)[i](); err != nil {
			log.Warn().Err(err).Msg("cleanup")
		}
	}
	*c = nil
}

// pendingSignal returns a signal that arrived while starting up, if any.
func pendingSignal(sig <-chan os.Signal) (os.Signal, bool) {
	select {
	case s := <-sig:
		return s, true
	default:
		return nil, false
	}
}

func run(args []string, stdout, stderr io.Writer, sig <-chan os.Signal) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if cfg.PrintConfig {
		return cfg.Print(stdout)
	}

	log, err := logger.New(logger.Options{
		Level:     cfg.Logging.Level,
		Format:    logger.Format(cfg.Logging.Format),
		IsService: logger.IsService(),
		Out:       stderr,
	})
	if err != nil {
		return err
	}
	if cfg.File != "" {
		log.Info().Str("file", cfg.File).Msg("loaded config")
	}
	if s, ok := pendingSignal(sig); ok {
		log.Info().Stringer("signal", s).Msg("signal during startup, exiting")
		return nil
	}

	// Hardware and renderer are owned by the monitor once it exists. Until
	// then a startup failure releases whatever was already acquired.
	var pending cleanup
	fail := func(err error) error {
		pending.run(log)
		return err
	}

	channel, err := mcu.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.ReadTimeout)
	if err != nil {
		return fail(fmt.Errorf("open serial port: %w", err))
	}
	pending.add(channel.Close)

	pins, err := gpio.NewRealPins(cfg.GPIO)
	if err != nil {
		return fail(fmt.Errorf("init gpio: %w", err))
	}
	pending.add(pins.Close)

	temperature, err := thermal.New(cfg.Thermal.Reader())
	if err != nil {
		return fail(fmt.Errorf("init thermal source: %w", err))
	}

	shutdowner, err := power.New(cfg.Power)
	if err != nil {
		return fail(fmt.Errorf("init power: %w", err))
	}

	// The renderer reads the state file on startup, so it must exist first.
	display := osd.NewPublisher(cfg.OSD.DataFile, nil)
	if err := display.Publish(logic.InitialReading()); err != nil {
		return fail(fmt.Errorf("write initial display state: %w", err))
	}
	renderer, err := osd.StartRenderer(cfg.OSD)
	if err != nil {
		return fail(fmt.Errorf("start renderer: %w", err))
	}
	pending.add(renderer.Stop)
	display.SetNotifier(renderer)
	log.Info().Int("pid", renderer.Pid()).Str("binary", cfg.OSD.Binary).Msg("renderer started")

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	deps := monitor.Deps{
		Channel:     channel,
		Pins:        pins,
		Temperature: temperature,
		Display:     display,
		Power:       shutdowner,
		Renderer:    renderer,
		Overlay:     overlay.NewPlayers(cfg.Overlay),
		Status:      tracker,
		Logger:      logger.Component(log, "monitor"),
	}

	// Optional sinks outlive the monitor and are closed after it.
	var sinks cleanup
	defer sinks.run(log)

	if cfg.MQTT.Broker != "" {
		pub := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger.Component(log, "mqtt"))
		sinks.add(pub.Close)
		deps.Telemetry = pub
		deps.MQTTStatus = pub
		log.Info().Str("broker", cfg.MQTT.Broker).Msg("telemetry enabled")
	}

	var stored web.HistorySource
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path, cfg.History.Retention, logger.Component(log, "history"))
		if err != nil {
			return fail(fmt.Errorf("open history: %w", err))
		}
		sinks.add(store.Close)
		deps.History = store
		stored = store
		log.Info().Str("path", cfg.History.Path).Dur("retention", cfg.History.Retention).Msg("history enabled")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, logger.Component(log, "web"))
		if stored != nil {
			srv.SetHistory(stored)
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server")
			}
		}()
		sinks.add(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("status server listening")
	}

	if s, ok := pendingSignal(sig); ok {
		log.Info().Stringer("signal", s).Msg("signal during startup, exiting")
		return fail(nil)
	}

	m, err := monitor.New(monitorConfig(cfg), deps)
	if err != nil {
		return fail(err)
	}
	pending = nil

	log.Info().
		Str("serial", cfg.Serial.Port).
		Dur("period", cfg.Loop.Period).
		Int("low_mv", cfg.Battery.LowMV).
		Int("shutdown_mv", cfg.Battery.ShutdownMV).
		Float64("max_temp_c", cfg.Thermal.MaxC).
		Bool("critical_shutdown", cfg.Battery.CriticalShutdown).
		Msg("started")
	m.Start()

	ticker := time.NewTicker(cfg.Loop.Period)
	defer ticker.Stop()

	outcome, err := m.Run(context.Background(), ticker.C, sig)
	log.Info().Stringer("outcome", outcome).Msg("stopped")
	return err
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Calibration:     cfg.Calibration,
		Battery:         cfg.Battery,
		Thermal:         cfg.Thermal.Limits(),
		StartupVideo:    cfg.Overlay.StartupVideo,
		LowBatteryImage: cfg.Overlay.LowBatteryImage,
	}
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		PeriodMs:      cfg.Loop.Period.Milliseconds(),
		SerialPort:    cfg.Serial.Port,
		LowMV:         cfg.Battery.LowMV,
		ShutdownMV:    cfg.Battery.ShutdownMV,
		MaxTempC:      cfg.Thermal.MaxC,
		Broker:        cfg.MQTT.Broker,
		HTTPPort:      cfg.HTTP.Addr,
		CriticalPower: cfg.Battery.CriticalShutdown,
	}
}
