package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer listens to both booking queues and appends one line per event
// to the booking log file.
type Consumer struct {
	url     string
	logPath string
	log     *zap.Logger

	mu  sync.Mutex // serialises writes to the log file
	out func() (io.WriteCloser, error)
}

// NewConsumer returns a Consumer writing to logPath.
func NewConsumer(url, logPath string, log *zap.Logger) *Consumer {
	c := &Consumer{url: url, logPath: logPath, log: log.Named("booking-consumer")}
	c.out = c.openLog
	return c
}

// Run connects to RabbitMQ, declares both queues and consumes until ctx is
// cancelled.  It keeps reconnecting with exponential backoff (capped at 30
// seconds) and rejects messages it cannot handle so a poison message never
// blocks the queue.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}

	confirmed, err := c.subscribe(ch, QueueBookingConfirmed)
	if err != nil {
		return err
	}
	cancelled, err := c.subscribe(ch, QueueBookingCancelled)
	if err != nil {
		return err
	}

	for {
		var (
			d  amqp.Delivery
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-confirmed:
		case d, ok = <-cancelled:
		}
		if !ok {
			return errors.New("deliveries channel closed")
		}
		queueName := d.RoutingKey
		if err := c.Handle(queueName, d.Body); err != nil {
			c.log.Error("handle message failed",
				zap.String("queue", queueName), zap.String("message_id", d.MessageId), zap.Error(err))
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
}

func (c *Consumer) subscribe(ch *amqp.Channel, queueName string) (<-chan amqp.Delivery, error) {
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue declare %s: %w", queueName, err)
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue consume %s: %w", queueName, err)
	}
	return msgs, nil
}

// Handle decodes one message from queueName and appends its log line.
func (c *Consumer) Handle(queueName string, body []byte) error {
	line, err := formatLine(queueName, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.out()
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.WriteString(f, line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(queueName string, body []byte) (string, error) {
	switch queueName {
	case QueueBookingConfirmed:
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking confirmed | reservation_id=%d | user_id=%d | class_id=%d | class=%q | teacher=%q | room=%d | date=%s %s | enrollment=%d/%d\n",
			ev.ConfirmedAt, ev.ReservationID, ev.UserID, ev.ClassID, ev.ClassName, ev.Teacher, ev.Room,
			ev.Date, ev.StartTime, ev.Enrollment, ev.MaxCapacity), nil
	case QueueBookingCancelled:
		var ev BookingCancelledEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		refund := "none"
		if ev.RefundedTo != nil {
			refund = fmt.Sprintf("balance %d", *ev.RefundedTo)
		}
		return fmt.Sprintf("[%s] Booking cancelled | reservation_id=%d | user_id=%d | class_id=%d | class=%q | date=%s | by_admin=%t | reason=%q | refund=%s\n",
			ev.CancelledAt, ev.ReservationID, ev.UserID, ev.ClassID, ev.ClassName, ev.Date, ev.ByAdmin,
			ev.Reason, refund), nil
	}
	return "", fmt.Errorf("unknown queue %q", queueName)
}

func (c *Consumer) openLog() (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
