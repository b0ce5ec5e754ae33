package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/audit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging/commands"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging/kafka"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging/rabbitmq"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/notification"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment/mercadopago"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment/stripe"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/ratelimit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository/memory"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository/postgres"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/service"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/webhook"
)

type repositories struct {
	groupOrders  repository.GroupOrderRepository
	participants repository.ParticipantRepository
	orders       repository.OrderRepository
	inventory    repository.InventoryRepository
	audit        repository.AuditRepository
}

// app holds every wired component. close releases them in reverse order.
type app struct {
	cfg        *config.Config
	repos      repositories
	broker     *kafka.Broker
	recorder   *audit.Recorder
	invoices   *service.InvoiceService
	reconciler *service.Reconciler
	closers    []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Failed to close resource", "err", err)
		}
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// 1. Storage
	if err := a.openStore(); err != nil {
		a.close()
		return nil, err
	}

	// 2. Audit sinks
	sinks := []audit.Sink{audit.NewRepositorySink(a.repos.audit)}
	if len(cfg.Kafka.Brokers) > 0 {
		a.broker = kafka.NewKafkaBroker(cfg.Kafka.Brokers)
		a.onClose(a.broker.Close)
		stream := audit.NewAsyncSink(audit.NewStreamSink(a.broker, cfg.Kafka.AuditTopic), 0)
		a.onClose(stream.Close)
		sinks = append(sinks, stream)
	}
	a.recorder = audit.NewRecorder(sinks...)

	// 3. Payment gateways
	gateways, err := newGateways(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	// 4. Notifications
	var notifier notification.Sender
	if cfg.RabbitMQ.URL != "" {
		pub, err := rabbitmq.NewPublisher(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.onClose(pub.Close)
		notifier = notification.NewQueueSender(pub, cfg.RabbitMQ.NotificationQueue)
	} else {
		slog.Warn("RabbitMQ not configured, invoice emails disabled")
	}

	// 5. Webhook adapters
	policy, err := webhook.ParsePolicy(cfg.Webhook.SignaturePolicy)
	if err != nil {
		a.close()
		return nil, err
	}
	adapters := webhook.Adapters{
		entity.ProviderStripe:      webhook.NewStripe(cfg.Stripe.WebhookSecret, policy, cfg.Webhook.Tolerance),
		entity.ProviderMercadoPago: webhook.NewMercadoPago(cfg.MercadoPago.WebhookSecret, policy),
	}

	a.invoices = service.NewInvoiceService(
		a.repos.groupOrders, a.repos.participants, gateways, notifier, a.recorder,
		service.InvoiceConfig{Currency: cfg.Invoice.Currency, IssueTimeout: cfg.Invoice.IssueTimeout},
	)
	a.reconciler = service.NewReconciler(
		adapters, gateways, a.repos.orders, a.repos.inventory, a.repos.participants, a.recorder,
	)
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store {
	case "memory":
		slog.Warn("Using in-memory store, state is lost on exit")
		store := memory.NewStore()
		a.repos = repositories{
			groupOrders:  store.GroupOrders(),
			participants: store.Participants(),
			orders:       store.Orders(),
			inventory:    store.Inventory(),
			audit:        store.Audit(),
		}
		return nil
	case "postgres", "":
		db, err := postgres.InitDB(a.cfg.Database.URL)
		if err != nil {
			return err
		}
		a.onClose(db.Close)
		a.repos = repositories{
			groupOrders:  postgres.NewGroupOrderRepository(db),
			participants: postgres.NewParticipantRepository(db),
			orders:       postgres.NewOrderRepository(db),
			inventory:    postgres.NewInventoryRepository(db),
			audit:        postgres.NewAuditRepository(db),
		}
		return nil
	default:
		return fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

func newGateways(cfg *config.Config) (payment.Gateways, error) {
	resilience := payment.ResilienceConfig{
		Timeout:  cfg.Gateway.Timeout,
		MaxTries: cfg.Gateway.MaxRetries,
	}
	httpClient := &http.Client{Timeout: cfg.Gateway.Timeout + time.Second}
	base := cfg.Invoice.PublicBaseURL

	gateways := payment.Gateways{}
	if key := cfg.Stripe.Credential(); key != "" {
		gateways[entity.ProviderStripe] = payment.NewResilient(stripe.New(stripe.Config{
			APIKey:     key,
			BaseURL:    cfg.Stripe.BaseURL,
			SuccessURL: base + "/checkout/success",
			CancelURL:  base + "/checkout/cancel",
			HTTPClient: httpClient,
		}), resilience)
	}
	if token := cfg.MercadoPago.Credential(); token != "" {
		mp, err := mercadopago.New(mercadopago.Config{
			AccessToken:     token,
			BaseURL:         cfg.MercadoPago.BaseURL,
			NotificationURL: base + "/api/webhooks/mercadopago",
			BackURL:         base + "/checkout/success",
			HTTPClient:      httpClient,
		})
		if err != nil {
			return nil, err
		}
		gateways[entity.ProviderMercadoPago] = payment.NewResilient(mp, resilience)
	}
	if len(gateways) == 0 {
		slog.Warn("No payment provider credentials configured")
	}
	return gateways, nil
}

// webhookLimiter uses Redis when configured so every replica shares one budget.
func (a *app) webhookLimiter() (func(http.Handler) http.Handler, error) {
	proxies, err := ratelimit.ParseTrustedProxies(a.cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, err
	}
	var store ratelimit.Store
	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr})
		a.onClose(client.Close)
		store = ratelimit.NewRedisStore(client, "settlement:ratelimit:")
	} else {
		store = ratelimit.NewMemoryStore()
	}
	return ratelimit.Middleware(store, "webhook", a.cfg.RateLimit.WebhookLimit, a.cfg.RateLimit.Window,
		ratelimit.WithTrustedProxies(proxies...)), nil
}

// commandTransport returns nil when Kafka is not configured.
func (a *app) commandTransport() (message.Publisher, message.Subscriber, error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return nil, nil, nil
	}
	logger := watermill.NewSlogLogger(slog.Default())
	pub, sub, err := commands.NewKafkaTransport(a.cfg.Kafka.Brokers, a.cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(func() error {
		return errors.Join(pub.Close(), sub.Close())
	})
	return pub, sub, nil
}
