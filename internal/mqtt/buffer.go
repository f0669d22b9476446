package mqtt

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages while the broker is unreachable. Readings go stale
// within one cycle, so only the newest is kept; events and lifecycle
// messages queue in a bounded FIFO that drops the oldest when full.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	reading *bufferedMsg

	events  []bufferedMsg
	start   int // index of the oldest queued event
	queued  int
	dropped bool // set once an event has been lost since the last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{events: make([]bufferedMsg, capacity)}
}

// setReading replaces any queued reading.
func (o *outbox) setReading(msg bufferedMsg) {
	o.reading = &msg
}

// addEvent queues msg. It returns true the first time an event is lost
// after a drain so the caller logs once per outage.
func (o *outbox) addEvent(msg bufferedMsg) (firstDrop bool) {
	size := len(o.events)
	if o.queued < size {
		o.events[(o.start+o.queued)%size] = msg
		o.queued++
		return false
	}
	o.events[o.start] = msg
	o.start = (o.start + 1) % size
	firstDrop = !o.dropped
	o.dropped = true
	return firstDrop
}

// drain returns queued events oldest first followed by the latest reading,
// and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	n := o.queued
	if o.reading != nil {
		n++
	}
	if n == 0 {
		return nil
	}

	out := make([]bufferedMsg, 0, n)
	for i := 0; i < o.queued; i++ {
		out = append(out, o.events[(o.start+i)%len(o.events)])
	}
	if o.reading != nil {
		out = append(out, *o.reading)
	}

	o.reading = nil
	o.start, o.queued = 0, 0
	o.dropped = false
	return out
}

// pending counts messages waiting for replay.
func (o *outbox) pending() int {
	if o.reading != nil {
		return o.queued + 1
	}
	return o.queued
}
