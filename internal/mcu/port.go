package mcu

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the microcontroller's USB CDC baud rate.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single request/reply exchange.
	DefaultReadTimeout = time.Second

	maxLineLen = 64
)

// rawPort is the subset of serial.Port used by Port.
type rawPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Port is a Channel backed by a real serial device.
type Port struct {
	conn    rawPort
	timeout time.Duration
	now     func() time.Time
}

// Ensure Port implements Channel.
var _ Channel = (*Port)(nil)

// Open opens the serial device at 8N1. Failure here is fatal to the caller:
// there is no valid state without the microcontroller.
func Open(name string, baudRate int, timeout time.Duration) (*Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	conn, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return newPort(conn, timeout, time.Now), nil
}

func newPort(conn rawPort, timeout time.Duration, now func() time.Time) *Port {
	return &Port{conn: conn, timeout: timeout, now: now}
}

// Request writes cmd and waits up to the configured timeout for one line.
func (p *Port) Request(cmd Command) (int, error) {
	// Drop anything left over from an earlier exchange that timed out.
	if err := p.conn.ResetInputBuffer(); err != nil {
		return 0, fmt.Errorf("reset input for %s: %w", cmd, err)
	}
	if _, err := p.conn.Write([]byte{byte(cmd)}); err != nil {
		return 0, fmt.Errorf("write %s: %w", cmd, err)
	}

	line, err := p.readLine()
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", cmd, err)
	}
	v, err := parseReply(line)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", cmd, err)
	}
	return v, nil
}

// readLine accumulates bytes until '\n' or the deadline passes.
func (p *Port) readLine() (string, error) {
	deadline := p.now().Add(p.timeout)
	var buf bytes.Buffer
	chunk := make([]byte, 32)

	for {
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			return "", ErrTimeout
		}
		if err := p.conn.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("set read timeout: %w", err)
		}

		n, err := p.conn.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		// n == 0 means the per-read timeout expired; the deadline check above ends the loop.
		buf.Write(chunk[:n])

		if i := bytes.IndexByte(buf.Bytes(), '\n'); i >= 0 {
			return string(buf.Bytes()[:i+1]), nil
		}
		if buf.Len() > maxLineLen {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, maxLineLen)
		}
	}
}

// Close releases the serial port.
func (p *Port) Close() error {
	return p.conn.Close()
}
