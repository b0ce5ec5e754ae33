package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository backed by Postgres.
func NewOrderRepository(db *sql.DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) UpsertOrderPaid(ctx context.Context, paid entity.PaidOrder) (bool, error) {
	orderID := paid.OrderID
	if orderID == "" {
		orderID = string(paid.Provider) + ":" + paid.ExternalPaymentID
	}
	now := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// PAID is terminal, so the upsert converges no matter which provider lands first.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, amount_cents, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		orderID, entity.OrderPaid, int64(paid.Amount), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert order: %w", err)
	}

	// Idempotency check on the provider reference
	var inserted bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO order_payments (provider, external_payment_id, order_id, amount_cents, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, external_payment_id) DO NOTHING RETURNING true`,
		paid.Provider, paid.ExternalPaymentID, orderID, int64(paid.Amount), now,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		// Already recorded; roll back so the redelivery leaves no trace.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record order payment: %w", err)
	}

	for _, item := range paid.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity)
			SELECT $1, $2, $3 WHERE NOT EXISTS (SELECT 1 FROM order_items WHERE order_id = $1 AND product_id = $2)`,
			orderID, item.ProductID, item.Quantity,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (*entity.Order, error) {
	var (
		o      entity.Order
		amount int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, status, amount_cents, created_at, updated_at FROM orders WHERE id = $1", id,
	).Scan(&o.ID, &o.Status, &amount, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	o.Amount = money.Cents(amount)

	rows, err := r.db.QueryContext(ctx, "SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item entity.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return &o, rows.Err()
}
