package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// HeaderTopic carries the topic so consumers need not parse the subject.
	HeaderTopic = "Pipehook-Topic"

	subscriberQueue = 64
)

// NATSPublisher mirrors events onto per-endpoint NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("pipehook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event as JSON. Payloads that belong to an endpoint go to
// Subject(topic, id); others go to topic itself.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}

	subject := topic
	if ev, ok := event.(endpointEvent); ok {
		subject = Subject(topic, ev.Endpoint())
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderTopic, topic)
	msg.Header.Set("Content-Type", "application/json")
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

// Close drains pending publishes before disconnecting.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}

// NATSSubscriber follows pipehook subjects, for example EndpointSubjects(id).
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Uint64
}

// NewNATSSubscriber connects with unlimited reconnects. Extra options are
// appended to the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("pipehook-subscriber"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers every message matching subject. A reader that falls
// more than subscriberQueue messages behind loses the excess; Dropped counts
// them.
func (s *NATSSubscriber) Subscribe(subject string) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriberQueue)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)
	deliver := func(raw *nats.Msg) {
		topic, endpointID := ParseSubject(raw.Subject)
		if t := raw.Header.Get(HeaderTopic); t != "" {
			topic = t
		}
		msg := Message{Topic: topic, EndpointID: endpointID, Data: raw.Data}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg:
		default:
			s.dropped.Add(1)
		}
	}

	sub, err := s.conn.Subscribe(subject, deliver)
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", subject, err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Dropped reports how many messages were discarded for slow readers.
func (s *NATSSubscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
