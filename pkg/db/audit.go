package db

import (
	"context"
	"time"
)

// AuditDAO records plugin-pipeline outcomes (spec.md §4.2's "every
// violation is recorded to the audit log with hook, entity, and reason").
type AuditDAO interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, teamID string, limit int) ([]AuditEntry, error)
}

type AuditEntry struct {
	ID          int64     `db:"id"`
	OccurredAt  time.Time `db:"occurred_at"`
	UserID      *string   `db:"user_id"`
	TeamID      *string   `db:"team_id"`
	Hook        string    `db:"hook"`
	Outcome     string    `db:"outcome"`
	Detail      JSONMap   `db:"detail"`
}

func (d *dao) RecordAudit(ctx context.Context, entry AuditEntry) error {
	const query = `INSERT INTO audit_log (user_id, team_id, hook, outcome, detail) VALUES (:user_id, :team_id, :hook, :outcome, :detail)`
	_, err := d.db.NamedExecContext(ctx, query, entry)
	return err
}

func (d *dao) ListAudit(ctx context.Context, teamID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, occurred_at, user_id, team_id, hook, outcome, detail
		FROM audit_log WHERE team_id = $1 ORDER BY occurred_at DESC LIMIT $2`
	var entries []AuditEntry
	if err := d.db.SelectContext(ctx, &entries, query, teamID, limit); err != nil {
		return nil, err
	}
	return entries, nil
}
