package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pin-monitor/internal/logger"
	"github.com/sweeney/pin-monitor/internal/monitor"
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
	// Buffer is the number of messages held while disconnected.
	Buffer int
	Logger *logger.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topic  string
	log    *logger.Logger

	mu        sync.Mutex
	buffer    *outbox
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is retried in the background; a broker that is down at startup does not
// fail the daemon.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	p := newPublisher(nil, opts)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(SystemTopic(p.topic), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warnf("broker %s not reachable yet, buffering until connected", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(client paho.Client, opts Options) *RealPublisher {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	return &RealPublisher{
		client: client,
		topic:  opts.Topic,
		log:    opts.Logger.WithTag("mqtt"),
		buffer: newOutbox(opts.Buffer),
	}
}

// Publish sends a listener event to <topic>/<listener>.
func (p *RealPublisher) Publish(event monitor.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(message{topic: EventTopic(p.topic, event.Name), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - lifecycle events should arrive
	return p.send(message{topic: SystemTopic(p.topic), payload: payload, qos: 1, retained: event.Retained})
}

// send publishes msg or buffers it when the connection is down.
func (p *RealPublisher) send(msg message) error {
	p.mu.Lock()
	if !p.connected {
		p.bufferLocked(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.requeue(msg)
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		p.requeue(msg)
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) requeue(msg message) {
	p.mu.Lock()
	p.bufferLocked(msg)
	p.mu.Unlock()
}

func (p *RealPublisher) bufferLocked(msg message) {
	if p.buffer.add(msg) {
		p.log.Warnf("buffer full (%d messages), dropping oldest", p.buffer.limit)
	}
}

// onConnect replays buffered messages in order. The publisher stays
// disconnected until the outbox is empty, so events published during the
// replay queue behind older ones. On reconnects it also announces
// RECONNECTED with the number of messages replayed.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connects++
	reconnect := p.connects > 1
	p.mu.Unlock()

	replayed := 0
	for {
		p.mu.Lock()
		pending := p.buffer.take()
		if len(pending) == 0 {
			p.connected = true
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		sent := p.replay(c, pending)
		replayed += sent
		if sent < len(pending) {
			p.mu.Lock()
			later := p.buffer.take()
			for _, msg := range append(pending[sent:], later...) {
				p.bufferLocked(msg)
			}
			p.connected = true
			p.mu.Unlock()
			p.log.Warnf("replay stopped, %d messages left buffered", len(pending)-sent+len(later))
			break
		}
	}

	if reconnect {
		p.log.Infof("reconnected, replayed %d buffered messages", replayed)
		payload, _ := FormatSystemPayload(SystemEvent{
			Timestamp: time.Now(),
			Event:     "RECONNECTED",
			Reason:    fmt.Sprintf("replayed %d", replayed),
		})
		c.Publish(SystemTopic(p.topic), 1, false, payload)
	} else {
		p.log.Infof("connected")
	}
}

// replay publishes msgs in order and returns how many went out before the
// first failure.
func (p *RealPublisher) replay(c paho.Client, msgs []message) int {
	for i, msg := range msgs {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			p.log.Warnf("replay to %s failed", msg.topic)
			return i
		}
	}
	return len(msgs)
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warnf("connection lost: %v", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
