package osd

import (
	"fmt"

	"github.com/sweeney/saio-monitor/internal/logic"
)

// Notifier tells the renderer that the state file changed.
type Notifier interface {
	Notify() error
}

// Display is what the control loop publishes each cycle to.
type Display interface {
	// Publish rewrites the state file and notifies the renderer.
	// A notify failure is returned wrapped in ErrNotify and is not fatal.
	Publish(r logic.Reading) error
}

// Publisher writes the state file then notifies the renderer.
type Publisher struct {
	file     *StateFile
	notifier Notifier
}

// Ensure Publisher implements Display.
var _ Display = (*Publisher)(nil)

// NewPublisher creates a Publisher. notifier may be nil when no renderer runs.
func NewPublisher(path string, notifier Notifier) *Publisher {
	return &Publisher{file: &StateFile{Path: path}, notifier: notifier}
}

// Publish writes r in full, then signals the renderer. The renderer is not
// signalled when the write fails.
func (p *Publisher) Publish(r logic.Reading) error {
	if err := p.file.Write(r); err != nil {
		return fmt.Errorf("publish state: %w", err)
	}
	if p.notifier == nil {
		return nil
	}
	return p.notifier.Notify()
}

// SetNotifier attaches the renderer once it has been started.
func (p *Publisher) SetNotifier(n Notifier) {
	p.notifier = n
}

// FakeDisplay records published readings for test assertions.
type FakeDisplay struct {
	Readings []logic.Reading
	// Err, if set, is returned by Publish after recording the reading.
	Err error
}

// Publish records the reading.
func (f *FakeDisplay) Publish(r logic.Reading) error {
	f.Readings = append(f.Readings, r)
	return f.Err
}
