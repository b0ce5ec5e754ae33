package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated")
	return db, nil
}

func migrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS group_orders (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			actual_shipping_cost_cents BIGINT,
			split_strategy TEXT NOT NULL DEFAULT 'per-item',
			status TEXT NOT NULL DEFAULT 'open',
			currency TEXT NOT NULL DEFAULT 'usd',
			provider TEXT NOT NULL DEFAULT 'stripe',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS participants (
			id TEXT PRIMARY KEY,
			group_order_id TEXT NOT NULL REFERENCES group_orders(id),
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			items_count INT NOT NULL DEFAULT 0,
			total_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			first_payment_status TEXT NOT NULL DEFAULT 'PENDING',
			shipping_charge_reference TEXT UNIQUE,
			shipping_cost_cents BIGINT NOT NULL DEFAULT 0,
			shipping_pay_link TEXT NOT NULL DEFAULT '',
			second_payment_status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			stock INT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'PENDING',
			amount_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL,
			quantity INT NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS order_payments (
			provider TEXT NOT NULL,
			external_payment_id TEXT NOT NULL,
			order_id TEXT NOT NULL REFERENCES orders(id),
			amount_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (provider, external_payment_id)
		);

		CREATE TABLE IF NOT EXISTS stock_movements (
			provider TEXT NOT NULL,
			external_payment_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (provider, external_payment_id, product_id)
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// isUniqueViolation reports a unique_violation (23505) from postgres.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
