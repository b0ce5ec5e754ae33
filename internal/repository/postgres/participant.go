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

type participantRepository struct {
	db *sql.DB
}

// NewParticipantRepository creates a new ParticipantRepository backed by Postgres.
func NewParticipantRepository(db *sql.DB) repository.ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) ListPaid(ctx context.Context, groupOrderID string) ([]entity.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_order_id, name, email, items_count, total_weight, first_payment_status,
		       shipping_charge_reference, shipping_cost_cents, shipping_pay_link, second_payment_status, created_at
		FROM participants
		WHERE group_order_id = $1 AND first_payment_status = $2
		ORDER BY created_at, id`,
		groupOrderID, entity.PaymentPaid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var participants []entity.Participant
	for rows.Next() {
		var (
			p    entity.Participant
			ref  sql.NullString
			cost int64
		)
		if err := rows.Scan(&p.ID, &p.GroupOrderID, &p.Name, &p.Email, &p.ItemsCount, &p.TotalWeight,
			&p.FirstPaymentStatus, &ref, &cost, &p.ShippingPayLink, &p.SecondPaymentStatus, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if ref.Valid {
			p.ShippingChargeReference = &ref.String
		}
		p.ShippingCost = money.Cents(cost)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return participants, nil
}

func (r *participantRepository) SetShippingCharge(ctx context.Context, charge repository.ShippingCharge) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE participants
		SET shipping_charge_reference = $1, shipping_cost_cents = $2, shipping_pay_link = $3
		WHERE id = $4 AND shipping_charge_reference IS NULL`,
		charge.Reference, int64(charge.Amount), charge.PayLink, charge.ParticipantID,
	)
	if isUniqueViolation(err) {
		return entity.ErrAlreadyInvoiced
	}
	if err != nil {
		return fmt.Errorf("failed to store shipping charge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM participants WHERE id = $1)", charge.ParticipantID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check participant: %w", err)
	}
	if !exists {
		return fmt.Errorf("participant %s: %w", charge.ParticipantID, entity.ErrNotFound)
	}
	return entity.ErrAlreadyInvoiced
}

func (r *participantRepository) MarkSecondPaymentPaid(ctx context.Context, participantID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE participants SET second_payment_status = $1 WHERE id = $2 AND second_payment_status <> $1",
		entity.PaymentPaid, participantID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark second payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM participants WHERE id = $1)", participantID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("participant %s: %w", participantID, entity.ErrNotFound)
	}
	return false, nil
}
