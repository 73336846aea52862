package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time. The message stays buffered for replay.
var ErrPublishTimeout = errors.New("mqtt: publish timeout")

// DefaultBufferSize is how many messages are kept while disconnected.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	// Timeout bounds how long a publish waits for the broker.
	Timeout time.Duration
}

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on (re)connect.
type RealPublisher struct {
	mu       sync.Mutex
	client   client
	buffer   *outbox
	timeout  time.Duration
	connects int
	now      func() time.Time
	log      zerolog.Logger
}

// NewRealPublisher creates a publisher and starts connecting in the
// background. It never blocks on the broker: publishes before the first
// connection are buffered.
func NewRealPublisher(opts Options, logger zerolog.Logger) *RealPublisher {
	if opts.ClientID == "" {
		opts.ClientID = "bike-computer"
	}
	p := newPublisher(nil, opts, logger)

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, false).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("connection lost, buffering")
		})

	c := paho.NewClient(clientOpts)
	p.client = c
	c.Connect()
	p.log.Info().Str("broker", opts.Broker).Msg("connecting")
	return p
}

func newPublisher(c client, opts Options, logger zerolog.Logger) *RealPublisher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	log := logger.With().Str("component", "mqtt").Logger()
	return &RealPublisher{
		client:  c,
		buffer:  newOutbox(opts.BufferSize, log),
		timeout: opts.Timeout,
		now:     time.Now,
		log:     log,
	}
}

// PublishState sends a state snapshot. QoS 0, not retained.
func (p *RealPublisher) PublishState(payload []byte) error {
	return p.publish(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(p.timeout) {
		p.requeue(msg)
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		p.requeue(msg)
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) requeue(msg bufferedMsg) {
	p.mu.Lock()
	p.buffer.push(msg)
	p.mu.Unlock()
}

// onConnect replays buffered messages and announces a reconnect.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending := p.buffer.drain()
	p.connects++
	reconnect := p.connects > 1
	p.mu.Unlock()

	p.log.Info().Int("replayed", len(pending)).Bool("reconnect", reconnect).Msg("connected")
	for _, msg := range pending {
		p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		p.client.Publish(TopicSystem, 1, false, payload)
	}
}

// Buffered returns how many messages await replay.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
