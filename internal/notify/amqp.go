package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultAMQPQueue      = "laundry.notifications"
	amqpContentType       = "application/json"
	amqpDefaultExchange   = ""
	amqpMandatoryDelivery = false
	amqpImmediateDelivery = false
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends notifications as persistent messages to a durable
// RabbitMQ queue through the default exchange.
type AMQPPublisher struct {
	mu         sync.Mutex
	channel    amqpChannel
	connection *amqp.Connection
	queue      string
}

// DialAMQP connects to url and declares queue. An empty queue selects the
// default.
func DialAMQP(url string, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		queue = defaultAMQPQueue
	}
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp notify: dial: %w", err)
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("amqp notify: channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = connection.Close()
		return nil, fmt.Errorf("amqp notify: declare queue: %w", err)
	}
	return &AMQPPublisher{channel: channel, connection: connection, queue: queue}, nil
}

func newAMQPPublisher(channel amqpChannel, queue string) *AMQPPublisher {
	if queue == "" {
		queue = defaultAMQPQueue
	}
	return &AMQPPublisher{channel: channel, queue: queue}
}

// Publish implements laundry.NotificationPublisher.
func (publisher *AMQPPublisher) Publish(ctx context.Context, notification laundry.Notification) error {
	payload, err := Encode(notification)
	if err != nil {
		return fmt.Errorf("amqp notify: encode: %w", err)
	}
	message := amqp.Publishing{
		ContentType:  amqpContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    notification.ReservationID.String(),
		Type:         NewEnvelope(notification).Event,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if err := publisher.channel.PublishWithContext(ctx, amqpDefaultExchange, publisher.queue, amqpMandatoryDelivery, amqpImmediateDelivery, message); err != nil {
		return fmt.Errorf("amqp notify: publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (publisher *AMQPPublisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var closeErrors []error
	if publisher.channel != nil {
		closeErrors = append(closeErrors, publisher.channel.Close())
	}
	if publisher.connection != nil {
		closeErrors = append(closeErrors, publisher.connection.Close())
	}
	return errors.Join(closeErrors...)
}
