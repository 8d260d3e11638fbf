package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisFabric relays messages over Redis Pub/Sub channels named <prefix><topic>
type RedisFabric struct {
	client     *redis.Client
	prefix     string
	bufferSize int
}

// NewRedisFabric creates a fabric on an existing client
func NewRedisFabric(client *redis.Client, prefix string, bufferSize int) *RedisFabric {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RedisFabric{client: client, prefix: prefix, bufferSize: bufferSize}
}

// DialRedis parses a redis:// URL, connects and pings
func DialRedis(ctx context.Context, url, prefix string, bufferSize int) (*RedisFabric, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisFabric(client, prefix, bufferSize), nil
}

// Publish sends payload to the topic's channel
func (f *RedisFabric) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := f.client.Publish(ctx, f.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to the topic's channel and waits for Redis to confirm it
func (f *RedisFabric) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := f.client.Subscribe(ctx, f.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSub{ps: ps, out: make(chan []byte, f.bufferSize), done: make(chan struct{})}
	go sub.forward()
	return sub, nil
}

// Close closes the Redis client
func (f *RedisFabric) Close() error {
	return f.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) forward() {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) Messages() <-chan []byte {
	return s.out
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
