package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/shared/logger"
)

const (
	// EventTypeHeaderKey carries SyncEvent.Event.
	EventTypeHeaderKey   = "event_type"
	PublishedAtHeaderKey = "published_at"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ledgersync.EventPublisher on a Kafka topic.
type Publisher struct {
	writer MessageWriter
	now    func() time.Time
}

var _ ledgersync.EventPublisher = (*Publisher)(nil)

// NewWriter returns a hash-balanced writer so that messages with the same
// key land on the same partition and keep their order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	logger.Log.WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Info("Starting Kafka producer")

	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer, now: time.Now}
}

// Publish writes event as JSON under key.
func (p *Publisher) Publish(ctx context.Context, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	headers := []kafka.Header{
		{Key: PublishedAtHeaderKey, Value: []byte(p.now().UTC().Format(time.RFC3339Nano))},
	}
	if e, ok := event.(ledgersync.SyncEvent); ok {
		headers = append(headers, kafka.Header{Key: EventTypeHeaderKey, Value: []byte(e.Event)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"key": key}).Debug("Event written to kafka")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
