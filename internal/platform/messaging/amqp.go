// Package messaging wraps RabbitMQ queues used for background bundle sync.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrNotConfirmed is returned when the broker nacks a publish.
var ErrNotConfirmed = errors.New("message not confirmed by broker")

// Dial connects to the broker at url.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Publisher sends persistent messages to one durable queue and waits for
// publisher confirms.
type Publisher struct {
	ch       *amqp.Channel
	queue    string
	confirms chan amqp.Confirmation
	mu       sync.Mutex
	logger   zerolog.Logger
}

func NewPublisher(conn *amqp.Connection, queue string, logger zerolog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &Publisher{
		ch:       ch,
		queue:    queue,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		logger:   logger,
	}, nil
}

// Publish sends body and blocks until the broker confirms it or ctx ends.
func (p *Publisher) Publish(ctx context.Context, contentType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	select {
	case confirmed, ok := <-p.confirms:
		if !ok || !confirmed.Ack {
			return fmt.Errorf("publish to %s: %w", p.queue, ErrNotConfirmed)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", p.queue, ctx.Err())
	}
	p.logger.Debug().Str("queue", p.queue).Int("bytes", len(body)).Msg("message published")
	return nil
}

func (p *Publisher) Close() error { return p.ch.Close() }

// Handler processes one message body. A nil error acks the delivery; any
// error nacks it without requeue.
type Handler func(ctx context.Context, body []byte) error

// Consumer reads deliveries from one durable queue.
type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, queue string, prefetch int, logger zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info().Str("queue", c.queue).Msg("consumer started")
	return Drain(ctx, deliveries, h, c.logger)
}

func (c *Consumer) Close() error { return c.ch.Close() }

// Drain handles deliveries one at a time until ctx ends or deliveries closes.
func Drain(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			handle(ctx, d, h, logger)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, h Handler, logger zerolog.Logger) {
	log := logger.With().Uint64("delivery_tag", d.DeliveryTag).Str("message_id", d.MessageId).Logger()
	if err := h(ctx, d.Body); err != nil {
		log.Error().Err(err).Msg("message rejected")
		if nerr := d.Nack(false, false); nerr != nil {
			log.Error().Err(nerr).Msg("nack failed")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}
