package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

type groupOrderRepository struct {
	db *sql.DB
}

// NewGroupOrderRepository creates a new GroupOrderRepository backed by Postgres.
func NewGroupOrderRepository(db *sql.DB) repository.GroupOrderRepository {
	return &groupOrderRepository{db: db}
}

func (r *groupOrderRepository) Get(ctx context.Context, id string) (*entity.GroupOrder, error) {
	var (
		g    entity.GroupOrder
		cost sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, title, actual_shipping_cost_cents, split_strategy, status, currency, provider, created_at FROM group_orders WHERE id = $1",
		id,
	).Scan(&g.ID, &g.Title, &cost, &g.SplitStrategy, &g.Status, &g.Currency, &g.Provider, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group order %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group order: %w", err)
	}
	if cost.Valid {
		c := money.Cents(cost.Int64)
		g.ActualShippingCost = &c
	}
	return &g, nil
}

func (r *groupOrderRepository) SetActualShippingCost(ctx context.Context, id string, cost money.Cents) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE group_orders SET actual_shipping_cost_cents = $1 WHERE id = $2 AND actual_shipping_cost_cents IS NULL",
		int64(cost), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set shipping cost: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Nothing updated: either unknown or already set.
	var current sql.NullInt64
	err = r.db.QueryRowContext(ctx, "SELECT actual_shipping_cost_cents FROM group_orders WHERE id = $1", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("group order %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load shipping cost: %w", err)
	}
	if current.Valid && money.Cents(current.Int64) == cost {
		return nil
	}
	return fmt.Errorf("%w: shipping cost of %s already set", entity.ErrInvalidState, id)
}
