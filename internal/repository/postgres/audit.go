package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates an append-only audit log backed by Postgres.
func NewAuditRepository(db *sql.DB) repository.AuditRepository {
	return &auditRepository{db: db}
}

func (s *auditRepository) Append(ctx context.Context, record entity.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log (id, event_type, actor_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)",
		record.ID, record.EventType, record.ActorID, record.Payload, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record %s: %w", record.EventType, err)
	}
	return nil
}

func (s *auditRepository) List(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, event_type, actor_id, payload, created_at FROM audit_log ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit records: %w", err)
	}
	defer rows.Close()

	var records []entity.AuditRecord
	for rows.Next() {
		var record entity.AuditRecord
		if err := rows.Scan(&record.ID, &record.EventType, &record.ActorID, &record.Payload, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return records, nil
}
