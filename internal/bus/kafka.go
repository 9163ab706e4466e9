package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"click-datastreams/internal/logger"
)

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
}

// KafkaBus is a Bus backed by Kafka.
type KafkaBus struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	log    *logger.Entry

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafkaBus creates a Kafka transport. The writer hashes message keys so
// every token keeps partition order.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Millisecond
	}

	kb := &KafkaBus{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           cfg.BatchTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		log: logger.GetLogger().WithComponent("kafka_bus"),
	}
	kb.log.WithFields(logger.Fields{
		"brokers": cfg.Brokers,
	}).Debug("kafka bus initialized")
	return kb, nil
}

// Publish writes messages synchronously.
func (kb *KafkaBus) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{
			Topic: m.Topic,
			Key:   m.Key,
			Value: m.Value,
			Time:  m.Time,
		}
	}
	if err := kb.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(out), err)
	}
	return nil
}

// Consumer opens a group reader on topic.
func (kb *KafkaBus) Consumer(topic, group string) (Consumer, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kb.cfg.Brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     100 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	kb.track(r)
	return &kafkaConsumer{r: r}, nil
}

// Replay reads every partition of topic from the first offset at or after
// since up to the high-water mark observed when the call starts.
func (kb *KafkaBus) Replay(ctx context.Context, topic string, since time.Time, fn func(Message) error) error {
	partitions, err := kafka.LookupPartitions(ctx, "tcp", kb.cfg.Brokers[0], topic)
	if err != nil {
		return fmt.Errorf("lookup partitions for %s: %w", topic, err)
	}

	for _, p := range partitions {
		if err := kb.replayPartition(ctx, topic, p.ID, since, fn); err != nil {
			return fmt.Errorf("replay %s/%d: %w", topic, p.ID, err)
		}
	}
	return nil
}

func (kb *KafkaBus) replayPartition(ctx context.Context, topic string, partition int, since time.Time, fn func(Message) error) error {
	conn, err := kafka.DialLeader(ctx, "tcp", kb.cfg.Brokers[0], topic, partition)
	if err != nil {
		return err
	}
	start, err := conn.ReadOffset(since)
	if err != nil {
		conn.Close()
		return err
	}
	end, err := conn.ReadLastOffset()
	conn.Close()
	if err != nil {
		return err
	}
	if !replayable(start, end) {
		return nil
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   kb.cfg.Brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10 << 20,
	})
	defer r.Close()
	if err := r.SetOffset(start); err != nil {
		return err
	}

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if err := fn(fromKafka(m)); err != nil {
			return err
		}
		if m.Offset >= end-1 {
			return nil
		}
	}
}

// replayable reports whether [start, end) holds messages to replay. The
// broker answers a time lookup with -1 when no message is that recent, and
// -1 is kafka.LastOffset, which would park the reader until new traffic.
func replayable(start, end int64) bool {
	return start >= 0 && start < end
}

func (kb *KafkaBus) track(r *kafka.Reader) {
	kb.mu.Lock()
	kb.readers = append(kb.readers, r)
	kb.mu.Unlock()
}

// Close flushes the writer and closes every reader opened through this bus.
func (kb *KafkaBus) Close() error {
	kb.mu.Lock()
	readers := kb.readers
	kb.readers = nil
	kb.mu.Unlock()

	for _, r := range readers {
		if err := r.Close(); err != nil {
			kb.log.WithError(err).Warn("failed to close reader")
		}
	}
	kb.log.Debug("closing kafka writer")
	return kb.writer.Close()
}

type kafkaConsumer struct {
	r *kafka.Reader
}

func (c *kafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return fromKafka(m), nil
}

func (c *kafkaConsumer) Commit(ctx context.Context, msgs ...Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	}
	return c.r.CommitMessages(ctx, out...)
}

func (c *kafkaConsumer) Close() error {
	return c.r.Close()
}

func fromKafka(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
}
