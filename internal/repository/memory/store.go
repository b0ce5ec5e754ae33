// Package memory keeps every store in process memory. It backs tests and the
// single-instance dev mode (store=memory); it is not shared across instances.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

type paymentKey struct {
	provider  entity.Provider
	paymentID string
}

type movementKey struct {
	paymentKey
	productID string
}

// Store holds all records behind one mutex so each operation is atomic.
type Store struct {
	mu           sync.Mutex
	groupOrders  map[string]entity.GroupOrder
	participants map[string]entity.Participant
	orders       map[string]entity.Order
	payments     map[paymentKey]string // -> order id
	products     map[string]entity.Product
	movements    map[movementKey]struct{}
	audit        []entity.AuditRecord
}

func NewStore() *Store {
	return &Store{
		groupOrders:  make(map[string]entity.GroupOrder),
		participants: make(map[string]entity.Participant),
		orders:       make(map[string]entity.Order),
		payments:     make(map[paymentKey]string),
		products:     make(map[string]entity.Product),
		movements:    make(map[movementKey]struct{}),
	}
}

func (s *Store) GroupOrders() repository.GroupOrderRepository   { return groupOrderRepo{s} }
func (s *Store) Participants() repository.ParticipantRepository { return participantRepo{s} }
func (s *Store) Orders() repository.OrderRepository             { return orderRepo{s} }
func (s *Store) Inventory() repository.InventoryRepository      { return inventoryRepo{s} }
func (s *Store) Audit() repository.AuditRepository              { return auditRepo{s} }

// --- Seeding and inspection ---

func (s *Store) PutGroupOrder(g entity.GroupOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	s.groupOrders[g.ID] = g
}

func (s *Store) PutParticipant(p entity.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.SecondPaymentStatus == "" {
		p.SecondPaymentStatus = entity.PaymentPending
	}
	s.participants[p.ID] = p
}

func (s *Store) PutProduct(p entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) Participant(id string) (entity.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	return p, ok
}

func (s *Store) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

// OrderCount returns the number of distinct orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// --- Group orders ---

type groupOrderRepo struct{ s *Store }

func (r groupOrderRepo) Get(ctx context.Context, id string) (*entity.GroupOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groupOrders[id]
	if !ok {
		return nil, fmt.Errorf("group order %s: %w", id, entity.ErrNotFound)
	}
	if g.ActualShippingCost != nil {
		cost := *g.ActualShippingCost
		g.ActualShippingCost = &cost
	}
	return &g, nil
}

func (r groupOrderRepo) SetActualShippingCost(ctx context.Context, id string, cost money.Cents) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groupOrders[id]
	if !ok {
		return fmt.Errorf("group order %s: %w", id, entity.ErrNotFound)
	}
	if g.ActualShippingCost != nil {
		if *g.ActualShippingCost == cost {
			return nil
		}
		return fmt.Errorf("%w: shipping cost of %s already set", entity.ErrInvalidState, id)
	}
	g.ActualShippingCost = &cost
	r.s.groupOrders[id] = g
	return nil
}

// --- Participants ---

type participantRepo struct{ s *Store }

func (r participantRepo) ListPaid(ctx context.Context, groupOrderID string) ([]entity.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.Participant
	for _, p := range r.s.participants {
		if p.GroupOrderID == groupOrderID && p.FirstPaymentStatus == entity.PaymentPaid {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r participantRepo) SetShippingCharge(ctx context.Context, charge repository.ShippingCharge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[charge.ParticipantID]
	if !ok {
		return fmt.Errorf("participant %s: %w", charge.ParticipantID, entity.ErrNotFound)
	}
	if p.Invoiced() {
		return entity.ErrAlreadyInvoiced
	}
	ref := charge.Reference
	p.ShippingChargeReference = &ref
	p.ShippingCost = charge.Amount
	p.ShippingPayLink = charge.PayLink
	r.s.participants[p.ID] = p
	return nil
}

func (r participantRepo) MarkSecondPaymentPaid(ctx context.Context, participantID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[participantID]
	if !ok {
		return false, fmt.Errorf("participant %s: %w", participantID, entity.ErrNotFound)
	}
	if p.SecondPaymentStatus == entity.PaymentPaid {
		return false, nil
	}
	p.SecondPaymentStatus = entity.PaymentPaid
	r.s.participants[p.ID] = p
	return true, nil
}

// --- Orders ---

type orderRepo struct{ s *Store }

func (r orderRepo) UpsertOrderPaid(ctx context.Context, paid entity.PaidOrder) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := paymentKey{paid.Provider, paid.ExternalPaymentID}
	if _, seen := r.s.payments[key]; seen {
		return false, nil
	}

	orderID := paid.OrderID
	if orderID == "" {
		orderID = string(paid.Provider) + ":" + paid.ExternalPaymentID
	}
	r.s.payments[key] = orderID

	now := time.Now()
	o, ok := r.s.orders[orderID]
	if !ok {
		o = entity.Order{ID: orderID, Items: paid.Items, Amount: paid.Amount, CreatedAt: now}
	}
	o.Status = entity.OrderPaid
	o.UpdatedAt = now
	r.s.orders[orderID] = o
	return true, nil
}

func (r orderRepo) Get(ctx context.Context, id string) (*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	return &o, nil
}

// --- Inventory ---

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) DecrementStock(ctx context.Context, d entity.StockDecrement) (entity.DecrementOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := movementKey{paymentKey{d.Provider, d.ExternalPaymentID}, d.ProductID}
	if _, done := r.s.movements[key]; done {
		return entity.DecrementAlreadyApplied, nil
	}
	p, ok := r.s.products[d.ProductID]
	if !ok {
		return entity.DecrementNotFound, nil
	}
	if p.Stock < d.Quantity {
		return entity.DecrementInsufficient, nil
	}
	p.Stock -= d.Quantity
	r.s.products[p.ID] = p
	r.s.movements[key] = struct{}{}
	return entity.DecrementApplied, nil
}

func (r inventoryRepo) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	return &p, nil
}

// --- Audit ---

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, record entity.AuditRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, record)
	return nil
}

// List returns the newest records first.
func (r auditRepo) List(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := len(r.s.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]entity.AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.s.audit[i])
	}
	return out, nil
}
