package appkafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the producer side used by the interaction Publisher.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaReader is the consumer side drained by the notification worker.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig describes the interaction-events topic and how to reach it.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string // consumer group; empty pins the reader to Partition
	Partition    int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration // max wait for a fetch batch
}

var errNoTopic = errors.New("kafka topic is empty")

func (c KafkaConfig) withDefaults() KafkaConfig {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	return c
}

// newWriter keys partitions by hash so events of one kind stay ordered.
// Publishes are synchronous and single-event, so batches flush quickly.
func newWriter(c KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           c.WriteTimeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func readerConfig(c KafkaConfig) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       1, // notifications are small and latency-sensitive
		MaxBytes:       10e6,
		MaxWait:        c.ReadTimeout,
		CommitInterval: time.Second,
	}
	if c.GroupID == "" {
		rc.Partition = c.Partition
	}
	return rc
}

// RealKafkaWriter publishes to the interaction-events topic.
type RealKafkaWriter struct {
	writer *kafka.Writer
}

func NewKafkaWriter(cfg KafkaConfig) (*RealKafkaWriter, error) {
	if cfg.Topic == "" {
		return nil, errNoTopic
	}
	return &RealKafkaWriter{writer: newWriter(cfg.withDefaults())}, nil
}

func (w *RealKafkaWriter) WriteMessages(ctx context.Context, messages ...kafka.Message) error {
	if w.writer == nil {
		return errors.New("kafka writer is nil")
	}
	return w.writer.WriteMessages(ctx, messages...)
}

func (w *RealKafkaWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

// RealKafkaReader consumes interaction events, normally as part of the
// notification-workers group.
type RealKafkaReader struct {
	reader *kafka.Reader
}

func NewKafkaReader(cfg KafkaConfig) KafkaReader {
	return &RealKafkaReader{reader: kafka.NewReader(readerConfig(cfg.withDefaults()))}
}

func (r *RealKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return r.reader.ReadMessage(ctx)
}

func (r *RealKafkaReader) Close() error {
	return r.reader.Close()
}
