// Package notify consumes appointment lifecycle events and turns them into
// email notifications. Delivery upstream is at-least-once, so handling is
// idempotent by construction (a duplicate event just renders the same mail).
package notify

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/events"
)

type Consumer struct {
	url    string
	mailer Mailer
	logger *zerolog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(url string, mailer Mailer, logger *zerolog.Logger) *Consumer {
	return &Consumer{url: url, mailer: mailer, logger: logger}
}

func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(events.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(events.NotifyQueue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, events.NotifyBindingKey, events.Exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, events.NotifyQueue, "notify-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handleDelivery(ctx, d); err != nil {
				c.logger.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("handle event, requeueing")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	ev, err := events.Unmarshal[events.AppointmentEvent](d.Body)
	if err != nil {
		return err
	}

	to, subject, body, err := Render(ev)
	if err != nil {
		return err
	}

	c.logger.Info().
		Int64("appointment_id", ev.AppointmentID).
		Str("event_type", string(ev.EventType)).
		Msg("event received")

	return c.mailer.Send(ctx, to, subject, body)
}
