package mcu

import "fmt"

// Reply is one scripted answer to a command.
type Reply struct {
	Value int
	Err   error
}

// FakeChannel is a test double that returns scripted replies per command.
type FakeChannel struct {
	// Replies holds the queue of answers for each command.
	// When a queue has one element left it is returned repeatedly.
	Replies map[Command][]Reply

	// Requests records every command in the order it was issued.
	Requests []Command

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeChannel creates a FakeChannel with no scripted replies.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{Replies: make(map[Command][]Reply)}
}

// Script appends replies for cmd and returns the channel for chaining.
func (f *FakeChannel) Script(cmd Command, replies ...Reply) *FakeChannel {
	f.Replies[cmd] = append(f.Replies[cmd], replies...)
	return f
}

// Values is a shorthand for scripting successful replies.
func (f *FakeChannel) Values(cmd Command, values ...int) *FakeChannel {
	for _, v := range values {
		f.Script(cmd, Reply{Value: v})
	}
	return f
}

// Request returns the next scripted reply for cmd.
func (f *FakeChannel) Request(cmd Command) (int, error) {
	f.Requests = append(f.Requests, cmd)

	q := f.Replies[cmd]
	if len(q) == 0 {
		return 0, fmt.Errorf("%w: no reply scripted for %s", ErrTimeout, cmd)
	}
	r := q[0]
	if len(q) > 1 {
		f.Replies[cmd] = q[1:]
	}
	return r.Value, r.Err
}

// Count returns how many times cmd was requested.
func (f *FakeChannel) Count(cmd Command) int {
	n := 0
	for _, c := range f.Requests {
		if c == cmd {
			n++
		}
	}
	return n
}

// Close marks the channel as closed.
func (f *FakeChannel) Close() error {
	f.Closed = true
	return nil
}
