// Package bus defines the message transport used between raw ingesters, the
// stream processor and the serving layer. Delivery is at-least-once.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull   = errors.New("bus queue full")
	ErrQueueClosed = errors.New("bus queue closed")
)

// Message is a single record on a topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Producer publishes messages. Messages with the same key keep their order.
type Producer interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

// Consumer reads one topic as a member of a consumer group.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msgs ...Message) error
	Close() error
}

// Bus is a producer that can also open consumers and replay recent history.
type Bus interface {
	Producer
	Consumer(topic, group string) (Consumer, error)
	// Replay calls fn for every message on topic written at or after since,
	// up to the end of the log at call time.
	Replay(ctx context.Context, topic string, since time.Time, fn func(Message) error) error
}
