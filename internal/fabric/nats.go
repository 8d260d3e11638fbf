package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NatsFabric relays messages over NATS core subjects named <prefix>.<topic>
type NatsFabric struct {
	conn       *nats.Conn
	prefix     string
	bufferSize int
}

// NewNatsFabric creates a fabric on an existing connection
func NewNatsFabric(conn *nats.Conn, prefix string, bufferSize int) *NatsFabric {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &NatsFabric{conn: conn, prefix: prefix, bufferSize: bufferSize}
}

// DialNats connects to the NATS server at url
func DialNats(url, prefix string, bufferSize int) (*NatsFabric, error) {
	conn, err := nats.Connect(url, nats.Name("auction-room"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNatsFabric(conn, prefix, bufferSize), nil
}

func (f *NatsFabric) subject(topic string) string {
	if f.prefix == "" {
		return topic
	}
	return f.prefix + "." + topic
}

// Publish sends payload on the topic's subject
func (f *NatsFabric) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.conn.Publish(f.subject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to the topic's subject and flushes so the server has registered it
func (f *NatsFabric) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	in := make(chan *nats.Msg, f.bufferSize)
	natsSub, err := f.conn.ChanSubscribe(f.subject(topic), in)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	if err := f.conn.FlushWithContext(ctx); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}

	sub := &natsSubscription{sub: natsSub, in: in, out: make(chan []byte, f.bufferSize), done: make(chan struct{})}
	go sub.forward()
	return sub, nil
}

// Close drains and closes the connection
func (f *NatsFabric) Close() error {
	return f.conn.Drain()
}

type natsSubscription struct {
	sub  *nats.Subscription
	in   chan *nats.Msg
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.in:
			select {
			case s.out <- msg.Data:
			case <-s.done:
				return
			}
		}
	}
}

func (s *natsSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *natsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.done)
	})
	return err
}
