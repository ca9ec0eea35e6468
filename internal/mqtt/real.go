package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// bufferCapacity holds a day of one-minute readings.
const bufferCapacity = 1440

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	now    func() time.Time

	mu        sync.Mutex
	buffer    *ringBuffer
	connected int // number of successful connects
}

// NewRealPublisher creates a publisher for the given broker. A broker that
// does not answer within the connect timeout is not an error: the client
// keeps retrying in the background and messages are queued until then.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := newPublisher(nil, time.Now)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, queueing until connected", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(client paho.Client, now func() time.Time) *RealPublisher {
	return &RealPublisher{
		client: client,
		now:    now,
		buffer: newRingBuffer(bufferCapacity),
	}
}

// onConnect replays queued messages. After a reconnect it also announces
// RECONNECTED on the system topic.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected++
	reconnect := p.connected > 1
	queued := p.buffer.drainAll()
	p.mu.Unlock()

	if reconnect {
		log.Printf("mqtt: reconnected, replaying %d messages", len(queued))
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		queued = append(queued, queuedMsg{topic: TopicSystem, payload: payload, qos: 1})
	}

	for i, m := range queued {
		if err := p.send(c, m); err != nil {
			log.Printf("mqtt: replay stopped: %v", err)
			p.mu.Lock()
			for _, rest := range queued[i:] {
				p.buffer.push(rest)
			}
			p.mu.Unlock()
			return
		}
	}
}

func (p *RealPublisher) send(c paho.Client, m queuedMsg) error {
	token := c.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// publish sends m, or queues it when the connection is down. A failed send
// is queued as well and the error returned.
func (p *RealPublisher) publish(m queuedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(m)
		return nil
	}
	if err := p.send(p.client, m); err != nil {
		p.enqueue(m)
		return err
	}
	return nil
}

func (p *RealPublisher) enqueue(m queuedMsg) {
	p.mu.Lock()
	p.buffer.push(m)
	p.mu.Unlock()
}

// PublishReading sends a reading with QoS 0.
func (p *RealPublisher) PublishReading(r Reading) error {
	payload, err := FormatReading(r)
	if err != nil {
		return fmt.Errorf("format reading: %w", err)
	}
	return p.publish(queuedMsg{topic: TopicReadings, payload: payload})
}

// PublishEvent sends an instrument event with QoS 1.
func (p *RealPublisher) PublishEvent(e Event) error {
	payload, err := FormatEvent(e)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return p.publish(queuedMsg{topic: TopicEvents, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event with QoS 1.
func (p *RealPublisher) PublishSystem(e SystemEvent) error {
	payload, err := FormatSystemPayload(e)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(queuedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: e.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Queued returns the number of messages waiting for the broker.
func (p *RealPublisher) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
