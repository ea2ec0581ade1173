// Package broker provides the delivery source: a pull interface
// yielding deliveries from the durable task_queue with ack/nack
// primitives, backed by RabbitMQ (github.com/rabbitmq/amqp091-go).
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hrygo/taskqueue/internal/logging"
)

// QueueName is the single queue this system consumes from and publishes
// to.
const QueueName = "task_queue"

// backoff schedule: initial delay 100ms, doubling, up to 5 attempts.
const (
	initialBackoff = 100 * time.Millisecond
	maxAttempts    = 5
)

// Delivery is one broker-originated message. Its lifetime ends when Ack
// or Nack is called; callers must not retain it afterward. It is an
// interface (rather than a concrete struct) so the execution supervisor
// can be tested against an in-memory fake without a live broker.
type Delivery interface {
	// Body returns the raw bytes of the enqueued message.
	Body() []byte
	// Ack confirms permanent removal of the message.
	Ack() error
	// Nack returns the message to the broker for redelivery. The broker
	// is the system of record for retry persistence; requeue is
	// implicit.
	Nack() error
}

// amqpDelivery is the concrete Delivery backed by a real RabbitMQ
// channel.
type amqpDelivery struct {
	inner amqp.Delivery
}

func (d amqpDelivery) Body() []byte { return d.inner.Body }
func (d amqpDelivery) Ack() error   { return d.inner.Ack(false) }
func (d amqpDelivery) Nack() error  { return d.inner.Nack(false, true) }

// Source is a pull-style source of Deliveries from QueueName.
type Source struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials url with exponential backoff (100ms initial, doubling, 5
// attempts) and idempotently declares task_queue.
func Connect(ctx context.Context, url string) (*Source, error) {
	var conn *amqp.Connection
	var err error
	delay := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err = amqp.DialConfig(url, amqp.Config{})
		if err == nil {
			break
		}
		logging.FromContext(ctx).Warn("broker connect failed", "attempt", attempt, "error", err.Error())
		if attempt == maxAttempts {
			return nil, fmt.Errorf("connect to broker after %d attempts: %w", maxAttempts, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	logging.FromContext(ctx).Info("broker channel established")
	return &Source{conn: conn, ch: ch}, nil
}

// Close releases the channel and connection.
func (s *Source) Close() error {
	chErr := s.ch.Close()
	connErr := s.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

// Consume returns a channel of Deliveries from task_queue. The returned
// channel closes when ctx is cancelled or the underlying amqp delivery
// channel closes.
func (s *Source) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	raw, err := s.ch.ConsumeWithContext(ctx, QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range raw {
			select {
			case out <- amqpDelivery{inner: d}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Publish sends payload onto task_queue, retrying with the same
// exponential backoff policy as Connect.
func (s *Source) Publish(ctx context.Context, payload []byte) error {
	delay := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.ch.PublishWithContext(ctx, "", QueueName, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		})
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("publish after %d attempts: %w", maxAttempts, err)
}

// PassiveDepth returns the number of messages currently sitting in
// task_queue via a passive queue declare, the form this system treats as
// authoritative for dashboard snapshot counts (as opposed to the
// idempotent, non-passive declare used on startup).
func (s *Source) PassiveDepth(ctx context.Context) (int, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open inspection channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(QueueName, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("passive declare: %w", err)
	}
	return q.Messages, nil
}
