// Package fabric relays accepted-bid events between server instances.
//
// A topic is an auction ID. Every implementation delivers the messages of one
// publisher on one topic in publication order, and Subscribe only returns once
// the subscription is live, so a caller may subscribe first and read ledger
// state second without missing anything published in between.
package fabric

import (
	"context"
	"errors"
)

// DefaultBufferSize is the per-subscription queue length used when none is configured
const DefaultBufferSize = 256

// ErrClosed is returned by operations on a closed fabric
var ErrClosed = errors.New("fabric closed")

// Publisher publishes payloads on a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber opens topic subscriptions
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Fabric is a topic-scoped publish/subscribe channel shared by server instances
type Fabric interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription is a live topic subscription. Messages is closed after Close.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
