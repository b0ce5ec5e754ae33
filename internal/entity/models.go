package entity

import (
	"encoding/json"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
)

// SplitStrategy selects how a group's shipping cost is divided.
type SplitStrategy string

const (
	SplitPerItem   SplitStrategy = "per-item"
	SplitPerWeight SplitStrategy = "per-weight"
	SplitEqual     SplitStrategy = "equal"
)

// PaymentStatus is the status of a participant's first or second payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderMercadoPago Provider = "mercadopago"
)

// Order statuses.
const (
	OrderPending = "PENDING"
	OrderPaid    = "PAID"
)

// GroupOrder is a jointly negotiated purchase opened by an organizer.
type GroupOrder struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	ActualShippingCost *money.Cents  `json:"actual_shipping_cost,omitempty"` // nil until the organizer sets it
	SplitStrategy      SplitStrategy `json:"split_strategy"`
	Status             string        `json:"status"`
	Currency           string        `json:"currency"`
	Provider           Provider      `json:"provider"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Participant is a member of exactly one GroupOrder.
type Participant struct {
	ID                      string        `json:"id"`
	GroupOrderID            string        `json:"group_order_id"`
	Name                    string        `json:"name"`
	Email                   string        `json:"email"`
	ItemsCount              int           `json:"items_count"`
	TotalWeight             float64       `json:"total_weight"`
	FirstPaymentStatus      PaymentStatus `json:"first_payment_status"`
	ShippingChargeReference *string       `json:"shipping_charge_reference,omitempty"` // set at most once
	ShippingCost            money.Cents   `json:"shipping_cost"`
	ShippingPayLink         string        `json:"shipping_pay_link,omitempty"`
	SecondPaymentStatus     PaymentStatus `json:"second_payment_status"`
	CreatedAt               time.Time     `json:"created_at"`
}

// Invoiced reports whether a shipping charge was already issued.
func (p Participant) Invoiced() bool {
	return p.ShippingChargeReference != nil && *p.ShippingChargeReference != ""
}

// ShippingShare is a participant's computed part of the shipping cost.
type ShippingShare struct {
	ParticipantID string      `json:"participant_id"`
	Proportion    float64     `json:"proportion"`
	ShippingCost  money.Cents `json:"shipping_cost"`
	ItemsCount    int         `json:"items_count"`
}

// OrderItem is a line item within an order.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Order represents a customer order.
type Order struct {
	ID        string      `json:"id"`
	Items     []OrderItem `json:"items"`
	Amount    money.Cents `json:"amount"`
	Status    string      `json:"status"` // "PENDING", "PAID"
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PaidOrder carries what the reconciler knows about a confirmed payment.
type PaidOrder struct {
	Provider          Provider
	ExternalPaymentID string
	OrderID           string
	Items             []OrderItem
	Amount            money.Cents
}

// Product is an inventory record.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// StockDecrement is one guarded inventory decrement for a confirmed payment.
type StockDecrement struct {
	Provider          Provider
	ExternalPaymentID string
	ProductID         string
	Quantity          int
}

// DecrementOutcome reports what a stock decrement did.
type DecrementOutcome int

const (
	DecrementApplied DecrementOutcome = iota
	DecrementAlreadyApplied
	DecrementNotFound
	DecrementInsufficient
)

func (o DecrementOutcome) String() string {
	switch o {
	case DecrementApplied:
		return "applied"
	case DecrementAlreadyApplied:
		return "already_applied"
	case DecrementNotFound:
		return "not_found"
	case DecrementInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// Canonical payment statuses after provider normalization.
const (
	StatusApproved = "approved"
	StatusPending  = "pending"
	StatusRejected = "rejected"
)

// Payment kinds carried in provider metadata.
const (
	KindOrder         = "order"
	KindGroupShipping = "group_shipping"
)

// PaymentEvent is a provider notification after verification and status re-fetch.
type PaymentEvent struct {
	Provider          Provider          `json:"provider"`
	ExternalPaymentID string            `json:"external_payment_id"`
	Status            string            `json:"status"`
	Kind              string            `json:"kind"`
	OrderID           string            `json:"order_id,omitempty"`
	ParticipantID     string            `json:"participant_id,omitempty"`
	Items             []OrderItem       `json:"items,omitempty"`
	Amount            money.Cents       `json:"amount"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Approved reports whether the provider confirmed the payment.
func (e PaymentEvent) Approved() bool {
	return e.Status == StatusApproved
}

// AuditRecord is one append-only entry of the financial audit trail.
type AuditRecord struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
