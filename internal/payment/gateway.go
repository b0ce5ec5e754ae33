// Package payment defines the provider-agnostic gateway contract and the resilience
// wrapper every provider client runs behind.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
)

// ChargeRequest asks a provider for one payable charge.
type ChargeRequest struct {
	// IdempotencyKey is sent to the provider so concurrent issuers converge on one charge.
	IdempotencyKey string
	ParticipantRef string
	Description    string
	Amount         money.Cents
	Currency       string
	Email          string
	Metadata       map[string]string
}

// Charge is a created, externally payable charge.
type Charge struct {
	Reference string
	PayLink   string
}

// PaymentStatus is the authoritative provider view of a payment.
type PaymentStatus struct {
	ID       string
	Status   string // canonical: entity.StatusApproved, StatusPending, StatusRejected or raw
	Amount   money.Cents
	Metadata map[string]string
	// RawItems is the serialized item list embedded at checkout, if any.
	RawItems json.RawMessage
}

// Gateway is a payment provider.
type Gateway interface {
	Provider() entity.Provider
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetPaymentStatus(ctx context.Context, externalPaymentID string) (*PaymentStatus, error)
}

// Gateways indexes gateways by provider.
type Gateways map[entity.Provider]Gateway

func (g Gateways) Get(p entity.Provider) (Gateway, error) {
	gw, ok := g[p]
	if !ok || gw == nil {
		return nil, fmt.Errorf("%w: no gateway configured for provider %q", entity.ErrInvalidState, p)
	}
	return gw, nil
}

type rawItem struct {
	ProductID      string `json:"productId"`
	SnakeProductID string `json:"product_id"`
	ID             string `json:"id"`
	Quantity       int    `json:"quantity"`
}

// DecodeItems parses the checkout item list. Providers store it either as a JSON
// array or as a string holding one (string-only metadata values). Lines naming the
// same product are merged, keeping first-seen order, since stock movements are keyed
// per product.
func DecodeItems(raw json.RawMessage) ([]entity.OrderItem, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode items string: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return nil, nil
		}
		raw = json.RawMessage(inner)
	}

	var parsed []rawItem
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	items := make([]entity.OrderItem, 0, len(parsed))
	index := make(map[string]int, len(parsed))
	for _, it := range parsed {
		id := it.ProductID
		if id == "" {
			id = it.SnakeProductID
		}
		if id == "" {
			id = it.ID
		}
		if id == "" || it.Quantity <= 0 {
			continue
		}
		if i, ok := index[id]; ok {
			items[i].Quantity += it.Quantity
			continue
		}
		index[id] = len(items)
		items = append(items, entity.OrderItem{ProductID: id, Quantity: it.Quantity})
	}
	return items, nil
}
