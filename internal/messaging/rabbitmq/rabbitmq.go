// Package rabbitmq publishes JSON messages to durable RabbitMQ queues.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging"
)

// Publisher sends each event to the queue named by its topic, declaring it on first use.
type Publisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex
	channel *amqp.Channel
	queues  map[string]bool
}

var _ messaging.Publisher = (*Publisher)(nil)

// NewPublisher dials with retry because the broker may still be starting.
func NewPublisher(ctx context.Context, url string) (*Publisher, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			slog.Warn("Failed to connect to RabbitMQ, retrying", "err", err)
			return nil, err
		}
		return conn, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(10))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, queues: make(map[string]bool)}, nil
}

func (p *Publisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.queues[topic] {
		_, err := p.channel.QueueDeclare(
			topic, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", topic, err)
		}
		p.queues[topic] = true
	}

	err = p.channel.PublishWithContext(ctx,
		"",    // exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    key,
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	slog.Debug("Published message", "queue", topic, "message_id", key)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return p.conn.Close()
}
