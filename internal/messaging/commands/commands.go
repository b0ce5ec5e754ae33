// Package commands runs asynchronous commands over watermill's CQRS component.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

var marshaler = cqrs.JSONMarshaler{GenerateName: cqrs.StructName}

func topic(prefix, commandName string) string {
	return prefix + commandName
}

// Bus sends commands to "<prefix><CommandStructName>" topics.
type Bus struct {
	bus *cqrs.CommandBus
}

func NewBus(pub message.Publisher, prefix string, logger watermill.LoggerAdapter) (*Bus, error) {
	bus, err := cqrs.NewCommandBusWithConfig(pub, cqrs.CommandBusConfig{
		GeneratePublishTopic: func(params cqrs.CommandBusGeneratePublishTopicParams) (string, error) {
			return topic(prefix, params.CommandName), nil
		},
		Marshaler: marshaler,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create command bus: %w", err)
	}
	return &Bus{bus: bus}, nil
}

func (b *Bus) Send(ctx context.Context, cmd any) error {
	if err := b.bus.Send(ctx, cmd); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// Processor consumes commands and dispatches them to their handlers.
type Processor struct {
	router *message.Router
}

func NewProcessor(sub message.Subscriber, prefix string, logger watermill.LoggerAdapter, handlers ...cqrs.CommandHandler) (*Processor, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			Logger:          logger,
		}.Middleware,
	)

	processor, err := cqrs.NewCommandProcessorWithConfig(router, cqrs.CommandProcessorConfig{
		GenerateSubscribeTopic: func(params cqrs.CommandProcessorGenerateSubscribeTopicParams) (string, error) {
			return topic(prefix, params.CommandName), nil
		},
		SubscriberConstructor: func(params cqrs.CommandProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return sub, nil
		},
		Marshaler: marshaler,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create command processor: %w", err)
	}
	if err := processor.AddHandlers(handlers...); err != nil {
		return nil, fmt.Errorf("failed to add command handlers: %w", err)
	}
	return &Processor{router: router}, nil
}

// Run blocks until ctx is done or the router fails.
func (p *Processor) Run(ctx context.Context) error {
	return p.router.Run(ctx)
}

// Running is closed once every handler subscribed.
func (p *Processor) Running() chan struct{} {
	return p.router.Running()
}

func (p *Processor) Close() error {
	return p.router.Close()
}

// NewKafkaTransport builds the watermill publisher and consumer-group subscriber.
func NewKafkaTransport(brokers []string, consumerGroup string, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	pubCfg := kafka.DefaultSaramaSyncPublisherConfig()
	pubCfg.Producer.RequiredAcks = sarama.WaitForAll

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: pubCfg,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	subCfg := kafka.DefaultSaramaSubscriberConfig()
	subCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: subCfg,
		ConsumerGroup:         consumerGroup,
	}, logger)
	if err != nil {
		pub.Close()
		return nil, nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}
	return pub, sub, nil
}
