package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/audit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/webhook"
)

// AdapterResolver returns the webhook adapter for a provider.
type AdapterResolver interface {
	Get(p entity.Provider) (webhook.Adapter, error)
}

// Reconciler turns verified provider notifications into order, inventory and
// participant state. Effects are keyed by (provider, external payment id), so
// redelivered notifications change nothing.
type Reconciler struct {
	adapters     AdapterResolver
	gateways     GatewayResolver
	orders       repository.OrderRepository
	inventory    repository.InventoryRepository
	participants repository.ParticipantRepository
	audit        *audit.Recorder
}

func NewReconciler(
	adapters AdapterResolver,
	gateways GatewayResolver,
	orders repository.OrderRepository,
	inventory repository.InventoryRepository,
	participants repository.ParticipantRepository,
	recorder *audit.Recorder,
) *Reconciler {
	return &Reconciler{
		adapters:     adapters,
		gateways:     gateways,
		orders:       orders,
		inventory:    inventory,
		participants: participants,
		audit:        recorder,
	}
}

// HandleWebhook verifies, resolves and applies one notification. The returned
// reconciliation is nil only when the request could not be parsed.
//
// Errors: entity.ErrUnauthorized (bad signature, nothing fetched),
// entity.ErrUpstreamUnavailable (status lookup failed, safe to redeliver),
// entity.ErrDataIntegrityGap (approved but not applicable, acknowledge).
func (r *Reconciler) HandleWebhook(ctx context.Context, provider entity.Provider, req *webhook.Request) (*entity.Reconciliation, error) {
	actor := "webhook:" + string(provider)

	adapter, err := r.adapters.Get(provider)
	if err != nil {
		return nil, err
	}

	n, err := adapter.Parse(req)
	if err != nil {
		slog.Warn("Rejected unparseable webhook", "provider", provider, "err", err)
		r.audit.Record(ctx, audit.WebhookRejected, map[string]any{"provider": provider, "reason": err.Error()}, actor)
		return nil, err
	}

	rec := entity.NewReconciliation(provider)
	if err := r.transition(ctx, rec, entity.WebhookReceived{
		Provider:   provider,
		PaymentID:  n.PaymentID,
		RequestID:  n.RequestID,
		ReceivedAt: req.ReceivedAt,
	}, actor); err != nil {
		return rec, err
	}

	// 1. Authenticate before anything touches the provider or the stores
	skipped, err := adapter.Verify(req, n)
	if err != nil {
		slog.Warn("Rejected webhook with invalid signature", "provider", provider, "payment_id", n.PaymentID, "err", err)
		r.audit.Record(ctx, audit.WebhookRejected, map[string]any{
			"provider":   provider,
			"payment_id": n.PaymentID,
			"reason":     err.Error(),
		}, actor)
		return rec, err
	}
	if err := r.transition(ctx, rec, entity.WebhookVerified{Provider: provider, PaymentID: n.PaymentID, Skipped: skipped}, actor); err != nil {
		return rec, err
	}

	if !n.Relevant {
		return rec, r.transition(ctx, rec, entity.WebhookIgnored{
			Provider:  provider,
			PaymentID: n.PaymentID,
			Reason:    fmt.Sprintf("event type %q not handled", n.EventType),
		}, actor)
	}

	// 2. The provider is the authority on status, never the notification body
	event, err := r.resolve(ctx, provider, n.PaymentID)
	if errors.Is(err, entity.ErrNotFound) {
		slog.Warn("Webhook refers to an unknown payment", "provider", provider, "payment_id", n.PaymentID)
		return rec, r.transition(ctx, rec, entity.WebhookIgnored{Provider: provider, PaymentID: n.PaymentID, Reason: "payment not found"}, actor)
	}
	if err != nil {
		slog.Error("Failed to resolve payment status", "provider", provider, "payment_id", n.PaymentID, "err", err)
		return rec, err
	}
	if err := r.transition(ctx, rec, entity.PaymentResolved{
		Provider:      provider,
		PaymentID:     n.PaymentID,
		Status:        event.Status,
		Kind:          event.Kind,
		OrderID:       event.OrderID,
		ParticipantID: event.ParticipantID,
		Amount:        event.Amount,
		Items:         event.Items,
	}, actor); err != nil {
		return rec, err
	}

	if !event.Approved() {
		slog.Info("Payment not approved, nothing to apply", "provider", provider, "payment_id", n.PaymentID, "status", event.Status)
		r.audit.Record(ctx, audit.WebhookNotApproved, map[string]any{
			"provider":   provider,
			"payment_id": n.PaymentID,
			"status":     event.Status,
		}, actor)
		return rec, r.transition(ctx, rec, entity.WebhookIgnored{Provider: provider, PaymentID: n.PaymentID, Reason: "status " + event.Status}, actor)
	}

	// 3. Apply the effects
	if event.Kind == entity.KindGroupShipping {
		return rec, r.applyShippingPayment(ctx, rec, event, actor)
	}
	return rec, r.applyOrderPayment(ctx, rec, event, actor)
}

func (r *Reconciler) resolve(ctx context.Context, provider entity.Provider, paymentID string) (*entity.PaymentEvent, error) {
	gateway, err := r.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	status, err := gateway.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment %s: %w", paymentID, err)
	}

	event := &entity.PaymentEvent{
		Provider:          provider,
		ExternalPaymentID: paymentID,
		Status:            status.Status,
		Kind:              status.Metadata["kind"],
		OrderID:           status.Metadata["order_id"],
		ParticipantID:     status.Metadata["participant_id"],
		Amount:            status.Amount,
		Metadata:          status.Metadata,
	}
	if event.Kind == "" {
		event.Kind = entity.KindOrder
	}

	items, err := payment.DecodeItems(status.RawItems)
	if err != nil {
		// Undecodable items surface as a data integrity gap when applying.
		slog.Warn("Failed to decode payment items", "provider", provider, "payment_id", paymentID, "err", err)
	}
	event.Items = items
	return event, nil
}

func (r *Reconciler) applyOrderPayment(ctx context.Context, rec *entity.Reconciliation, event *entity.PaymentEvent, actor string) error {
	if len(event.Items) == 0 {
		return r.integrityGap(ctx, rec, event, "approved payment has no items metadata", actor)
	}

	created, err := r.orders.UpsertOrderPaid(ctx, entity.PaidOrder{
		Provider:          event.Provider,
		ExternalPaymentID: event.ExternalPaymentID,
		OrderID:           event.OrderID,
		Items:             event.Items,
		Amount:            event.Amount,
	})
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}
	if !created {
		slog.Info("Payment already recorded (idempotency)", "provider", event.Provider, "payment_id", event.ExternalPaymentID)
	}

	// Each item is guarded on its own so a redelivery fills in earlier gaps.
	var decremented, failed int
	for _, item := range event.Items {
		outcome, err := r.inventory.DecrementStock(ctx, entity.StockDecrement{
			Provider:          event.Provider,
			ExternalPaymentID: event.ExternalPaymentID,
			ProductID:         item.ProductID,
			Quantity:          item.Quantity,
		})
		switch {
		case err != nil:
			failed++
			r.decrementFailed(ctx, event, item, err.Error(), actor)
		case outcome == entity.DecrementApplied:
			decremented++
		case outcome == entity.DecrementAlreadyApplied:
			slog.Debug("Stock already decremented for payment", "payment_id", event.ExternalPaymentID, "product_id", item.ProductID)
		default:
			failed++
			r.decrementFailed(ctx, event, item, outcome.String(), actor)
		}
	}

	return r.transition(ctx, rec, entity.PaymentApplied{
		Provider:       event.Provider,
		PaymentID:      event.ExternalPaymentID,
		OrderID:        event.OrderID,
		Created:        created,
		Decremented:    decremented,
		DecrementFails: failed,
	}, actor)
}

func (r *Reconciler) applyShippingPayment(ctx context.Context, rec *entity.Reconciliation, event *entity.PaymentEvent, actor string) error {
	if event.ParticipantID == "" {
		return r.integrityGap(ctx, rec, event, "shipping payment has no participant_id metadata", actor)
	}

	changed, err := r.participants.MarkSecondPaymentPaid(ctx, event.ParticipantID)
	if errors.Is(err, entity.ErrNotFound) {
		return r.integrityGap(ctx, rec, event, "shipping payment for unknown participant", actor)
	}
	if err != nil {
		return fmt.Errorf("failed to mark second payment paid: %w", err)
	}
	if changed {
		r.audit.Record(ctx, audit.SecondPaymentMarkedPaid, map[string]any{
			"participant_id": event.ParticipantID,
			"provider":       event.Provider,
			"payment_id":     event.ExternalPaymentID,
			"amount":         event.Amount,
		}, actor)
	}

	return r.transition(ctx, rec, entity.PaymentApplied{
		Provider:      event.Provider,
		PaymentID:     event.ExternalPaymentID,
		ParticipantID: event.ParticipantID,
		Created:       changed,
	}, actor)
}

func (r *Reconciler) integrityGap(ctx context.Context, rec *entity.Reconciliation, event *entity.PaymentEvent, reason, actor string) error {
	slog.Error("Approved payment cannot be applied", "provider", event.Provider, "payment_id", event.ExternalPaymentID, "reason", reason)
	r.audit.Record(ctx, audit.WebhookDataIntegrityGap, map[string]any{
		"provider":   event.Provider,
		"payment_id": event.ExternalPaymentID,
		"reason":     reason,
		"metadata":   event.Metadata,
	}, actor)
	if err := r.transition(ctx, rec, entity.WebhookIgnored{Provider: event.Provider, PaymentID: event.ExternalPaymentID, Reason: reason}, actor); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", entity.ErrDataIntegrityGap, reason)
}

func (r *Reconciler) decrementFailed(ctx context.Context, event *entity.PaymentEvent, item entity.OrderItem, reason, actor string) {
	slog.Error("Failed to decrement stock", "payment_id", event.ExternalPaymentID, "product_id", item.ProductID, "quantity", item.Quantity, "reason", reason)
	r.audit.Record(ctx, audit.InventoryDecrementFailed, map[string]any{
		"provider":   event.Provider,
		"payment_id": event.ExternalPaymentID,
		"product_id": item.ProductID,
		"quantity":   item.Quantity,
		"reason":     reason,
	}, actor)
}

func (r *Reconciler) transition(ctx context.Context, rec *entity.Reconciliation, e entity.Event, actor string) error {
	if err := rec.ApplyEvent(e); err != nil {
		return err
	}
	r.audit.RecordEvent(ctx, e, actor)
	slog.Info("Webhook transition", "id", rec.GetAggregateID(), "state", rec.State)
	return nil
}
