package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository creates a new InventoryRepository backed by Postgres.
func NewInventoryRepository(db *sql.DB) repository.InventoryRepository {
	return &inventoryRepository{db: db}
}

// DecrementStock records the movement and decrements in one transaction. The movement
// row is the guard against redelivery; the UPDATE is a single conditional statement so
// concurrent payments for the same product never lose an update.
func (r *inventoryRepository) DecrementStock(ctx context.Context, d entity.StockDecrement) (entity.DecrementOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO stock_movements (provider, external_payment_id, product_id, quantity) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING RETURNING true`,
		d.Provider, d.ExternalPaymentID, d.ProductID, d.Quantity,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.DecrementAlreadyApplied, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record stock movement: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1",
		d.Quantity, d.ProductID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update product stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", d.ProductID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to check product: %w", err)
		}
		if !exists {
			return entity.DecrementNotFound, nil
		}
		return entity.DecrementInsufficient, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return entity.DecrementApplied, nil
}

func (r *inventoryRepository) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	var p entity.Product
	err := r.db.QueryRowContext(ctx, "SELECT id, name, stock FROM products WHERE id = $1", id).Scan(&p.ID, &p.Name, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return &p, nil
}
