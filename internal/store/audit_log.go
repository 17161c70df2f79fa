package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// AuditLog writes audit events to the analysis_audit_log table.
type AuditLog struct {
	pool *pgxpool.Pool
}

func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

func (a *AuditLog) Record(ctx context.Context, e models.AuditEvent) error {
	var durationMS *int64
	if e.Duration != nil {
		ms := e.Duration.Milliseconds()
		durationMS = &ms
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO analysis_audit_log (id, occurred_at, operation, actor, session_id, document_id, duration_ms, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.Operation, e.Actor, e.SessionID, e.DocumentID, durationMS, e.Outcome)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns the newest audit events, newest first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := a.pool.Query(ctx,
		`SELECT id, occurred_at, operation, actor, session_id, document_id, duration_ms, outcome
		 FROM analysis_audit_log ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := []models.AuditEvent{}
	for rows.Next() {
		var (
			e          models.AuditEvent
			durationMS *int64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Operation, &e.Actor, &e.SessionID,
			&e.DocumentID, &durationMS, &e.Outcome); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if durationMS != nil {
			d := time.Duration(*durationMS) * time.Millisecond
			e.Duration = &d
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
