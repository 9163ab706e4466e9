package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus with one partition per topic. Each topic
// retains up to capacity messages; once full, Publish returns ErrQueueFull
// until every consumer group has read past the oldest message.
type MemoryBus struct {
	mu       sync.Mutex
	capacity int
	topics   map[string]*topicLog
	closed   bool
}

type topicLog struct {
	base   int64 // offset of msgs[0]
	msgs   []Message
	groups map[string]*groupCursor
	notify chan struct{}
}

type groupCursor struct {
	next      int64
	committed int64
}

// NewMemoryBus allocates a bus retaining capacity messages per topic.
func NewMemoryBus(capacity int) *MemoryBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryBus{
		capacity: capacity,
		topics:   make(map[string]*topicLog),
	}
}

func (b *MemoryBus) topic(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{
			groups: make(map[string]*groupCursor),
			notify: make(chan struct{}),
		}
		b.topics[name] = t
	}
	return t
}

// Publish appends messages to their topics. It never blocks.
func (b *MemoryBus) Publish(_ context.Context, msgs ...Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}
	for _, m := range msgs {
		t := b.topic(m.Topic)
		if len(t.msgs) >= b.capacity && !t.trim() {
			return ErrQueueFull
		}
		m.Partition = 0
		m.Offset = t.base + int64(len(t.msgs))
		if m.Time.IsZero() {
			m.Time = time.Now()
		}
		t.msgs = append(t.msgs, m)
		close(t.notify)
		t.notify = make(chan struct{})
	}
	return nil
}

// trim drops the oldest message if no group still needs it.
func (t *topicLog) trim() bool {
	for _, g := range t.groups {
		if g.next <= t.base {
			return false
		}
	}
	t.msgs = t.msgs[1:]
	t.base++
	return true
}

// Consumer opens a reader sharing the group's cursor. A new group starts at
// the oldest retained message.
func (b *MemoryBus) Consumer(topic, group string) (Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrQueueClosed
	}
	t := b.topic(topic)
	if _, ok := t.groups[group]; !ok {
		t.groups[group] = &groupCursor{next: t.base, committed: t.base}
	}
	return &memoryConsumer{bus: b, topic: topic, group: group}, nil
}

// Replay calls fn for every retained message on topic with Time >= since.
func (b *MemoryBus) Replay(ctx context.Context, topic string, since time.Time, fn func(Message) error) error {
	b.mu.Lock()
	t := b.topic(topic)
	snapshot := make([]Message, len(t.msgs))
	copy(snapshot, t.msgs)
	b.mu.Unlock()

	for _, m := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Time.Before(since) {
			continue
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// Committed returns the committed offset of group on topic.
func (b *MemoryBus) Committed(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.topic(topic).groups[group]; ok {
		return g.committed
	}
	return 0
}

// Messages returns a copy of the retained messages on topic.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topic)
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Close wakes every blocked consumer and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		close(t.notify)
		t.notify = make(chan struct{})
	}
	return nil
}

type memoryConsumer struct {
	bus   *MemoryBus
	topic string
	group string
}

func (c *memoryConsumer) Fetch(ctx context.Context) (Message, error) {
	for {
		c.bus.mu.Lock()
		if c.bus.closed {
			c.bus.mu.Unlock()
			return Message{}, ErrQueueClosed
		}
		t := c.bus.topic(c.topic)
		g := t.groups[c.group]
		if g.next < t.base {
			g.next = t.base
		}
		if idx := g.next - t.base; idx < int64(len(t.msgs)) {
			m := t.msgs[idx]
			g.next++
			c.bus.mu.Unlock()
			return m, nil
		}
		wait := t.notify
		c.bus.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-wait:
		}
	}
}

func (c *memoryConsumer) Commit(_ context.Context, msgs ...Message) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	g := c.bus.topic(c.topic).groups[c.group]
	for _, m := range msgs {
		if m.Offset+1 > g.committed {
			g.committed = m.Offset + 1
		}
	}
	return nil
}

func (c *memoryConsumer) Close() error { return nil }
