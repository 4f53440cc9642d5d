package auditlog

import (
	"context"
	"database/sql"
	"fmt"

	"gatecheck/internal/model"
)

// Repository is the Postgres-backed Log. The scan_log table grants the
// service INSERT and SELECT only; appends ride on a BIGSERIAL id.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Append implements Log.
func (r *Repository) Append(ctx context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_log (tenant_id, participant_id, actor_id, sub_event_id, scan_kind, outcome, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, at
	`, e.TenantID, e.ParticipantID, e.ActorID, e.SubEventID, e.Kind, e.Outcome, e.At.UTC())
	if err := row.Scan(&e.ID, &e.At); err != nil {
		return model.ScanLogEntry{}, err
	}
	return e, nil
}

// Query implements Log.
func (r *Repository) Query(ctx context.Context, f Filter) ([]model.ScanLogEntry, error) {
	query := `SELECT id, tenant_id, participant_id, actor_id, sub_event_id, scan_kind, outcome, at FROM scan_log WHERE tenant_id = $1`
	args := []any{f.TenantID}
	if f.ParticipantID != "" {
		args = append(args, f.ParticipantID)
		query += " AND participant_id = $" + itoa(len(args))
	}
	if f.SubEventID != "" {
		args = append(args, f.SubEventID)
		query += " AND sub_event_id = $" + itoa(len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		query += " AND at >= $" + itoa(len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		query += " AND at <= $" + itoa(len(args))
	}
	query += " ORDER BY at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScanLogEntry
	for rows.Next() {
		var e model.ScanLogEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ParticipantID, &e.ActorID, &e.SubEventID, &e.Kind, &e.Outcome, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
