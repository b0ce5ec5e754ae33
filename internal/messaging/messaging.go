// Package messaging holds the broker contracts shared by the Kafka and RabbitMQ adapters.
package messaging

import "context"

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Subscriber defines an interface for subscribing to a message topic.
type Subscriber interface {
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, key string, event any) error

func (f PublisherFunc) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	return f(ctx, topic, key, event)
}
