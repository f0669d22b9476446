// Package status provides a thread-safe status tracker for the saio-monitor daemon.
// It is read by the HTTP handlers while the control loop writes to it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/saio-monitor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	PeriodMs      int64
	SerialPort    string
	LowMV         int
	ShutdownMV    int
	MaxTempC      float64
	Broker        string
	HTTPPort      string
	CriticalPower bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Reading       logic.Reading
	LowBatteryPin bool
	Cycles        int64
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether at least one voltage reading has been taken.
func (s Snapshot) Ready() bool {
	return s.Reading.HasVoltage
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners []chan struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Reading:   logic.InitialReading(),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the cycle's reading, the low-battery pin and event counts.
// Called by the control loop after every completed cycle.
func (t *Tracker) Update(r logic.Reading, lowBatteryPin bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Reading = r
	t.snap.LowBatteryPin = lowBatteryPin
	t.snap.Counts = counts
	t.snap.Cycles++
	listeners := t.listeners
	t.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Subscribe returns a channel that receives a value after each Update.
// Notifications are coalesced; a slow reader sees only that something changed.
func (t *Tracker) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.listeners = append(t.listeners, ch)
	t.mu.Unlock()
	return ch
}

// Unsubscribe stops notifications on a channel returned by Subscribe.
func (t *Tracker) Unsubscribe(sub <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ch := range t.listeners {
		if ch == sub {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return
		}
	}
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
