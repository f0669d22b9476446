package osd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

var (
	// ErrRendererExited is returned when the renderer process is no longer running.
	ErrRendererExited = errors.New("osd: renderer exited")
	// ErrNotify wraps failures to deliver the reload signal.
	ErrNotify = errors.New("osd: notify renderer")
)

const (
	DefaultStartGrace  = time.Second
	DefaultStopTimeout = 2 * time.Second
)

// RendererConfig describes how to launch the renderer.
type RendererConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	DataFile    string        `mapstructure:"data_file" yaml:"data_file"`
	ConfigFile  string        `mapstructure:"config_file" yaml:"config_file"`
	StartGrace  time.Duration `mapstructure:"start_grace" yaml:"start_grace"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// Renderer owns the external renderer process.
type Renderer struct {
	cmd         *exec.Cmd
	done        chan struct{}
	waitErr     error
	stopTimeout time.Duration
}

// StartRenderer launches the renderer with the data and config file paths and
// checks that it is still alive after the start grace period. An early exit
// is a fatal startup error.
func StartRenderer(cfg RendererConfig) (*Renderer, error) {
	grace := cfg.StartGrace
	if grace <= 0 {
		grace = DefaultStartGrace
	}
	stop := cfg.StopTimeout
	if stop <= 0 {
		stop = DefaultStopTimeout
	}

	cmd := exec.Command(cfg.Binary, "-d", cfg.DataFile, "-c", cfg.ConfigFile)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start renderer %s: %w", cfg.Binary, err)
	}

	r := &Renderer{cmd: cmd, done: make(chan struct{}), stopTimeout: stop}
	go func() {
		r.waitErr = cmd.Wait()
		close(r.done)
	}()

	select {
	case <-r.done:
		return nil, fmt.Errorf("%w during startup: %v", ErrRendererExited, r.exitDescription())
	case <-time.After(grace):
	}
	return r, nil
}

// Pid returns the renderer's process id.
func (r *Renderer) Pid() int {
	return r.cmd.Process.Pid
}

// Alive reports whether the process is still running.
func (r *Renderer) Alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Notify asks the renderer to reload the state file.
func (r *Renderer) Notify() error {
	if !r.Alive() {
		return fmt.Errorf("%w: %w (%s)", ErrNotify, ErrRendererExited, r.exitDescription())
	}
	if err := r.cmd.Process.Signal(syscall.SIGUSR1); err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	return nil
}

// Stop terminates the renderer, escalating to SIGKILL after the stop timeout.
func (r *Renderer) Stop() error {
	if !r.Alive() {
		return nil
	}
	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate renderer: %w", err)
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(r.stopTimeout):
	}
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill renderer: %w", err)
	}
	<-r.done
	return nil
}

// exitDescription must only be called after done is closed.
func (r *Renderer) exitDescription() string {
	if r.waitErr != nil {
		return r.waitErr.Error()
	}
	return "exit status 0"
}
