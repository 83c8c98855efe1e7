package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"github.com/segmentio/kafka-go"
)

const (
	defaultKafkaTopic = "laundry.notifications"
	headerEventType   = "event-type"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notifications to a topic keyed by user id, so one
// user's alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher builds a synchronous writer for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = defaultKafkaTopic
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Publish implements laundry.NotificationPublisher.
func (publisher *KafkaPublisher) Publish(ctx context.Context, notification laundry.Notification) error {
	payload, err := Encode(notification)
	if err != nil {
		return fmt.Errorf("kafka notify: encode: %w", err)
	}
	message := kafka.Message{
		Key:     []byte(notification.UserID.String()),
		Value:   payload,
		Time:    notification.OccurredAt.UTC(),
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(NewEnvelope(notification).Event)}},
	}
	if err := publisher.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("kafka notify: write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (publisher *KafkaPublisher) Close() error {
	return publisher.writer.Close()
}
