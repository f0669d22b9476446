// Package power halts the host.
package power

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/godbus/dbus/v5"
)

const (
	MethodCommand = "command"
	MethodLogind  = "logind"
)

// Config selects how the host is halted.
type Config struct {
	Method string `mapstructure:"method" yaml:"method"`
	// Command is the privileged halt command, run without extra arguments.
	Command []string `mapstructure:"command" yaml:"command"`
}

// DefaultConfig halts through sudo like the reference image.
func DefaultConfig() Config {
	return Config{
		Method:  MethodCommand,
		Command: []string{"sudo", "shutdown", "-h", "now"},
	}
}

// Shutdowner halts the host.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// New builds the Shutdowner named by cfg.Method.
func New(cfg Config) (Shutdowner, error) {
	switch cfg.Method {
	case MethodCommand, "":
		if len(cfg.Command) == 0 {
			return nil, errors.New("shutdown command is empty")
		}
		return &Command{Argv: cfg.Command}, nil
	case MethodLogind:
		return &Logind{}, nil
	default:
		return nil, fmt.Errorf("unknown shutdown method %q", cfg.Method)
	}
}

// Command runs an external halt command.
type Command struct {
	Argv []string
}

// Shutdown runs the command and waits for it to return.
func (c *Command) Shutdown(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %v: %w (output: %q)", c.Argv, err, out)
	}
	return nil
}

// Logind asks systemd-logind to power off over the system bus.
type Logind struct{}

const (
	logindDest   = "org.freedesktop.login1"
	logindPath   = dbus.ObjectPath("/org/freedesktop/login1")
	logindMethod = "org.freedesktop.login1.Manager.PowerOff"
)

// Shutdown calls Manager.PowerOff(interactive=false).
func (l *Logind) Shutdown(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	call := conn.Object(logindDest, logindPath).CallWithContext(ctx, logindMethod, 0, false)
	if call.Err != nil {
		return fmt.Errorf("logind power off: %w", call.Err)
	}
	return nil
}

// FakeShutdowner records shutdown requests.
type FakeShutdowner struct {
	Calls int
	Err   error
}

// Shutdown records the call.
func (f *FakeShutdowner) Shutdown(context.Context) error {
	f.Calls++
	return f.Err
}
