package fabric

import (
	"context"
	"sync"

	"auction-room/utils"
)

// MemoryFabric is an in-process fabric for single-instance deployments and tests.
// A subscriber whose queue is full misses the message; room feeds recover it from the ledger.
type MemoryFabric struct {
	mu         sync.RWMutex
	topics     map[string]map[*memorySub]struct{}
	bufferSize int
	closed     bool
}

// NewMemoryFabric creates an in-process fabric
func NewMemoryFabric(bufferSize int) *MemoryFabric {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &MemoryFabric{
		topics:     make(map[string]map[*memorySub]struct{}),
		bufferSize: bufferSize,
	}
}

// Publish delivers payload to every current subscriber of topic
func (f *MemoryFabric) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}

	for sub := range f.topics[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
			utils.Warn("fabric: subscriber queue full, message dropped", map[string]any{
				"topic": topic,
			})
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic; it is live when Subscribe returns
func (f *MemoryFabric) Subscribe(_ context.Context, topic string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{fabric: f, topic: topic, ch: make(chan []byte, f.bufferSize)}
	if f.topics[topic] == nil {
		f.topics[topic] = make(map[*memorySub]struct{})
	}
	f.topics[topic][sub] = struct{}{}
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on topic
func (f *MemoryFabric) SubscriberCount(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[topic])
}

// Close ends every subscription
func (f *MemoryFabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for topic, subs := range f.topics {
		for sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(f.topics, topic)
	}
	return nil
}

type memorySub struct {
	fabric *MemoryFabric
	topic  string
	ch     chan []byte
	closed bool // guarded by fabric.mu
}

func (s *memorySub) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySub) Close() error {
	f := s.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	delete(f.topics[s.topic], s)
	if len(f.topics[s.topic]) == 0 {
		delete(f.topics, s.topic)
	}
	close(s.ch)
	return nil
}
