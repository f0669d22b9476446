package history

import "github.com/sweeney/saio-monitor/internal/logic"

// FakeRecorder keeps records in memory for tests.
type FakeRecorder struct {
	Readings []logic.Reading
	Events   []logic.Event
	Err      error
	Closed   bool
}

func (f *FakeRecorder) Record(r logic.Reading) error {
	if f.Err != nil {
		return f.Err
	}
	f.Readings = append(f.Readings, r)
	return nil
}

func (f *FakeRecorder) RecordEvent(e logic.Event) error {
	if f.Err != nil {
		return f.Err
	}
	f.Events = append(f.Events, e)
	return nil
}

func (f *FakeRecorder) Close() error {
	f.Closed = true
	return nil
}
