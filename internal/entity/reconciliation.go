package entity

import (
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
)

// ReconciliationState is a step of webhook processing.
type ReconciliationState string

const (
	StateReceived ReconciliationState = "RECEIVED"
	StateVerified ReconciliationState = "VERIFIED"
	StateResolved ReconciliationState = "RESOLVED"
	StateApplied  ReconciliationState = "APPLIED"
	StateIgnored  ReconciliationState = "IGNORED"
)

// Event is a step of a reconciliation. EventType doubles as the audit record type.
type Event interface {
	EventType() string
}

// Aggregate is implemented by state machines rebuilt from their events.
type Aggregate interface {
	GetAggregateID() string
	GetVersion() int
	ApplyEvent(event Event) error
}

// AggregateBase carries the identity and applied-event count.
type AggregateBase struct {
	ID      string
	Version int
}

func (a *AggregateBase) GetAggregateID() string { return a.ID }

func (a *AggregateBase) GetVersion() int { return a.Version }

var _ Aggregate = (*Reconciliation)(nil)

// --- Events ---

// WebhookReceived is emitted when a provider notification arrives.
type WebhookReceived struct {
	Provider   Provider  `json:"provider"`
	PaymentID  string    `json:"payment_id"`
	RequestID  string    `json:"request_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func (e WebhookReceived) EventType() string { return "webhook.received" }

// WebhookVerified is emitted once the signature check passed or was skipped by policy.
type WebhookVerified struct {
	Provider  Provider `json:"provider"`
	PaymentID string   `json:"payment_id"`
	Skipped   bool     `json:"skipped,omitempty"`
}

func (e WebhookVerified) EventType() string { return "webhook.verified" }

// PaymentResolved is emitted after the authoritative status lookup.
type PaymentResolved struct {
	Provider      Provider    `json:"provider"`
	PaymentID     string      `json:"payment_id"`
	Status        string      `json:"status"`
	Kind          string      `json:"kind"`
	OrderID       string      `json:"order_id,omitempty"`
	ParticipantID string      `json:"participant_id,omitempty"`
	Amount        money.Cents `json:"amount"`
	Items         []OrderItem `json:"items,omitempty"`
}

func (e PaymentResolved) EventType() string { return "webhook.resolved" }

// PaymentApplied is emitted when the order and inventory effects ran.
type PaymentApplied struct {
	Provider       Provider `json:"provider"`
	PaymentID      string   `json:"payment_id"`
	OrderID        string   `json:"order_id,omitempty"`
	ParticipantID  string   `json:"participant_id,omitempty"`
	Created        bool     `json:"created"`
	Decremented    int      `json:"decremented"`
	DecrementFails int      `json:"decrement_failures"`
}

func (e PaymentApplied) EventType() string { return "webhook.applied" }

// WebhookIgnored is emitted when processing stops without effects.
type WebhookIgnored struct {
	Provider  Provider `json:"provider"`
	PaymentID string   `json:"payment_id"`
	Reason    string   `json:"reason"`
}

func (e WebhookIgnored) EventType() string { return "webhook.ignored" }

// Reconciliation tracks one notification per (provider, external payment id).
type Reconciliation struct {
	AggregateBase
	Provider  Provider
	PaymentID string
	State     ReconciliationState
	Event     *PaymentEvent
	Reason    string
}

// NewReconciliation creates a reconciliation in its zero state.
func NewReconciliation(provider Provider) *Reconciliation {
	return &Reconciliation{Provider: provider}
}

// ApplyEvent advances the state machine, rejecting illegal transitions.
func (r *Reconciliation) ApplyEvent(e Event) error {
	switch e := e.(type) {
	case WebhookReceived:
		if r.State != "" {
			return r.illegal(e)
		}
		r.PaymentID = e.PaymentID
		r.ID = string(e.Provider) + ":" + e.PaymentID
		r.State = StateReceived
	case WebhookVerified:
		if r.State != StateReceived {
			return r.illegal(e)
		}
		r.State = StateVerified
	case PaymentResolved:
		if r.State != StateVerified {
			return r.illegal(e)
		}
		r.Event = &PaymentEvent{
			Provider:          e.Provider,
			ExternalPaymentID: e.PaymentID,
			Status:            e.Status,
			Kind:              e.Kind,
			OrderID:           e.OrderID,
			ParticipantID:     e.ParticipantID,
			Items:             e.Items,
			Amount:            e.Amount,
		}
		r.State = StateResolved
	case PaymentApplied:
		if r.State != StateResolved || r.Event == nil || !r.Event.Approved() {
			return r.illegal(e)
		}
		r.State = StateApplied
	case WebhookIgnored:
		// Verified notifications about unrelated event types stop before resolution.
		if r.State != StateVerified && r.State != StateResolved {
			return r.illegal(e)
		}
		r.State = StateIgnored
		r.Reason = e.Reason
	default:
		return fmt.Errorf("unknown event type for Reconciliation: %s", e.EventType())
	}
	r.Version++
	return nil
}

// Done reports whether the reconciliation reached a terminal state.
func (r *Reconciliation) Done() bool {
	return r.State == StateApplied || r.State == StateIgnored
}

func (r *Reconciliation) illegal(e Event) error {
	return fmt.Errorf("%w: %s not allowed in state %q", ErrInvalidState, e.EventType(), r.State)
}
