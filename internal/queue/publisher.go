package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends booking events to RabbitMQ.  A connection is dialled per
// publish: events are rare compared with reads, and a broker outage must
// never hold a connection pool hostage.  Errors are logged and returned so
// the caller can choose to ignore them.
type Publisher struct {
	url         string
	dialTimeout time.Duration
	log         *zap.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, dialTimeout: 2 * time.Second, log: log.Named("publisher")}
}

// PublishConfirmed publishes ev to the booking.confirmed queue.
func (p *Publisher) PublishConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return p.publish(ctx, QueueBookingConfirmed, ev)
}

// PublishCancelled publishes ev to the booking.cancelled queue.
func (p *Publisher) PublishCancelled(ctx context.Context, ev BookingCancelledEvent) error {
	return p.publish(ctx, QueueBookingCancelled, ev)
}

func (p *Publisher) publish(ctx context.Context, queueName string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", queueName, err)
	}
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(p.dialTimeout)})
	if err != nil {
		p.log.Warn("dial failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("channel open failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		p.log.Warn("queue declare failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         queueName,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, msg); err != nil {
		p.log.Warn("publish failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	p.log.Debug("event published", zap.String("queue", queueName), zap.String("message_id", msg.MessageId))
	return nil
}
