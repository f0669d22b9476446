package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/saio-monitor/internal/logic"
)

const (
	// eventCapacity bounds threshold and lifecycle messages held while offline.
	eventCapacity  = 100
	publishTimeout = 2 * time.Second
)

// RealPublisher publishes to an actual MQTT broker. Messages produced while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	logger zerolog.Logger

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher for the given broker. The initial
// connection is retried in the background so a missing broker never blocks
// the monitor.
func NewRealPublisher(broker, clientID string, logger zerolog.Logger) *RealPublisher {
	p := &RealPublisher{
		logger: logger,
		outbox: newOutbox(eventCapacity),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.replay() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn().Err(err).Msg("mqtt connection lost")
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// PublishReading sends the cycle's snapshot at QoS 0.
func (p *RealPublisher) PublishReading(r logic.Reading) error {
	payload, err := FormatReading(r)
	if err != nil {
		return fmt.Errorf("format reading: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicReadings, payload: payload}, true)
}

// Publish sends a threshold event at QoS 1.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicEvents, payload: payload, qos: 1}, false)
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}, false)
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg, reading bool) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		var firstDrop bool
		if reading {
			p.outbox.setReading(msg)
		} else {
			firstDrop = p.outbox.addEvent(msg)
		}
		p.mu.Unlock()
		if firstDrop {
			p.logger.Warn().Int("capacity", eventCapacity).Msg("mqtt outbox full, dropping oldest event")
		}
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// replay runs on paho's goroutine after every (re)connect.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.outbox.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	p.logger.Info().Int("messages", len(msgs)).Msg("mqtt connected, replaying buffered messages")
	for _, m := range msgs {
		// Fire and forget: waiting here would block paho's connect handler.
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}
