// Package mcu talks to the power-management microcontroller over serial.
// Each exchange is one command byte out and one integer line back; there is
// no pipelining, so a request completes (or times out) before the next starts.
package mcu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command is a single-byte request understood by the microcontroller.
type Command byte

const (
	CmdVoltage  Command = 'V' // raw voltage ADC count
	CmdCurrent  Command = 'C' // raw current ADC count
	CmdModeInfo Command = 'i' // debug overlay flag
	CmdWifi     Command = 'w' // wifi indicator flag
	CmdMute     Command = 'a' // mute indicator flag
)

func (c Command) String() string {
	return string(rune(c))
}

var (
	// ErrTimeout is returned when no complete line arrives before the deadline.
	ErrTimeout = errors.New("mcu: read timeout")
	// ErrProtocol is returned when the reply is not an integer.
	ErrProtocol = errors.New("mcu: malformed reply")
)

// Channel issues requests to the microcontroller.
type Channel interface {
	// Request sends cmd and returns the integer reply.
	// Errors wrap ErrTimeout or ErrProtocol for recoverable failures.
	Request(cmd Command) (int, error)

	// Close releases the serial port.
	Close() error
}

// parseReply parses one reply line, with or without its line terminator.
func parseReply(line string) (int, error) {
	s := strings.TrimRight(line, "\r\n")
	s = strings.TrimSpace(s)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	return v, nil
}
