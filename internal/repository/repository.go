package repository

import (
	"context"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
)

// GroupOrderRepository handles persistence for group orders.
type GroupOrderRepository interface {
	Get(ctx context.Context, id string) (*entity.GroupOrder, error)
	// SetActualShippingCost stores the cost once. Repeating the same value is a no-op;
	// a different value fails with entity.ErrInvalidState.
	SetActualShippingCost(ctx context.Context, id string, cost money.Cents) error
}

// ShippingCharge is what gets persisted once a participant's charge exists.
type ShippingCharge struct {
	ParticipantID string
	Reference     string
	Amount        money.Cents
	PayLink       string
}

// ParticipantRepository handles persistence for participants.
type ParticipantRepository interface {
	// ListPaid returns participants whose first payment is PAID, oldest first.
	ListPaid(ctx context.Context, groupOrderID string) ([]entity.Participant, error)
	// SetShippingCharge stores the charge reference only if none is set yet,
	// returning entity.ErrAlreadyInvoiced otherwise.
	SetShippingCharge(ctx context.Context, charge ShippingCharge) error
	// MarkSecondPaymentPaid flips the second payment status; false if it already was PAID.
	MarkSecondPaymentPaid(ctx context.Context, participantID string) (bool, error)
}

// OrderRepository handles persistence for orders.
type OrderRepository interface {
	// UpsertOrderPaid marks the order PAID keyed by (provider, external payment id).
	// created is false when that provider reference was already recorded.
	UpsertOrderPaid(ctx context.Context, paid entity.PaidOrder) (created bool, err error)
	Get(ctx context.Context, id string) (*entity.Order, error)
}

// InventoryRepository handles the stock counters.
type InventoryRepository interface {
	// DecrementStock atomically removes quantity once per (provider, payment, product).
	DecrementStock(ctx context.Context, d entity.StockDecrement) (entity.DecrementOutcome, error)
	GetProduct(ctx context.Context, id string) (*entity.Product, error)
}

// AuditRepository appends audit records. Records are never updated.
type AuditRepository interface {
	Append(ctx context.Context, record entity.AuditRecord) error
	List(ctx context.Context, limit int) ([]entity.AuditRecord, error)
}
