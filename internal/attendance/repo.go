package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"gatecheck/internal/model"
)

// Repository is the Postgres-backed Store. Compare-and-set maps to a single
// conditional UPDATE decided by RowsAffected, so the row lock held by that
// statement is the serialization point.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const participantCols = `id, tenant_id, display_code, name, reception_status, reception_at, created_at`

func scanParticipant(row *sql.Row) (model.Participant, error) {
	var p model.Participant
	if err := row.Scan(&p.ID, &p.TenantID, &p.DisplayCode, &p.Name, &p.Reception, &p.ReceptionAt, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Participant{}, ErrNotFound
		}
		return model.Participant{}, err
	}
	return p, nil
}

// ResolveCode implements Roster. Codes are stored normalized, so the lookup
// is a plain equality match.
func (r *Repository) ResolveCode(ctx context.Context, tenantID, code string) (model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+participantCols+`
		FROM participants
		WHERE tenant_id = $1 AND display_code = $2
	`, tenantID, model.NormalizeCode(code))
	return scanParticipant(row)
}

// GetParticipant implements Roster.
func (r *Repository) GetParticipant(ctx context.Context, participantID string) (model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+participantCols+` FROM participants WHERE id = $1
	`, participantID)
	return scanParticipant(row)
}

// GetAttendance implements Roster.
func (r *Repository) GetAttendance(ctx context.Context, participantID, subEventID string) (model.EventAttendance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT participant_id, sub_event_id, status, marked_at, marked_by
		FROM event_attendance
		WHERE participant_id = $1 AND sub_event_id = $2
	`, participantID, subEventID)
	var a model.EventAttendance
	if err := row.Scan(&a.ParticipantID, &a.SubEventID, &a.Status, &a.MarkedAt, &a.MarkedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EventAttendance{}, ErrNotFound
		}
		return model.EventAttendance{}, err
	}
	return a, nil
}

// ListParticipants implements Roster.
func (r *Repository) ListParticipants(ctx context.Context, tenantID string) ([]model.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+participantCols+`
		FROM participants
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.TenantID, &p.DisplayCode, &p.Name, &p.Reception, &p.ReceptionAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAttendance implements Roster.
func (r *Repository) ListAttendance(ctx context.Context, tenantID, subEventID string) ([]model.EventAttendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ea.participant_id, ea.sub_event_id, ea.status, ea.marked_at, ea.marked_by
		FROM event_attendance ea
		JOIN participants p ON p.id = ea.participant_id
		WHERE p.tenant_id = $1 AND ea.sub_event_id = $2
		ORDER BY ea.participant_id
	`, tenantID, subEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EventAttendance
	for rows.Next() {
		var a model.EventAttendance
		if err := rows.Scan(&a.ParticipantID, &a.SubEventID, &a.Status, &a.MarkedAt, &a.MarkedBy); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TrySetReception implements Store.
func (r *Repository) TrySetReception(ctx context.Context, participantID string, from, to model.ReceptionStatus, at time.Time) (bool, error) {
	var stamp *time.Time
	if to == model.Entered {
		t := at.UTC()
		stamp = &t
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE participants
		SET reception_status = $3, reception_at = $4
		WHERE id = $1 AND reception_status = $2
	`, participantID, from, to, stamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Zero rows: either the CAS lost or the participant does not exist.
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1)`, participantID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// TrySetAttendance implements Store. The reception precondition is folded
// into the UPDATE's WHERE clause, so check and write commit together.
func (r *Repository) TrySetAttendance(ctx context.Context, participantID, subEventID string, from, to model.AttendanceStatus, markedBy string, at time.Time) (bool, error) {
	var stamp *time.Time
	var actor *string
	if to == model.Present {
		t := at.UTC()
		stamp = &t
		if markedBy != "" {
			actor = &markedBy
		}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE event_attendance
		SET status = $4, marked_at = $5, marked_by = $6
		WHERE participant_id = $1 AND sub_event_id = $2 AND status = $3
		  AND ($4 <> 'present' OR EXISTS (
			SELECT 1 FROM participants p
			WHERE p.id = $1 AND p.reception_status = 'entered'
		  ))
	`, participantID, subEventID, from, to, stamp, actor)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Diagnose the zero-row case without mutating anything.
	var status model.AttendanceStatus
	err = r.db.QueryRowContext(ctx, `
		SELECT status FROM event_attendance WHERE participant_id = $1 AND sub_event_id = $2
	`, participantID, subEventID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if status != from {
		return false, nil
	}
	return false, ErrReceptionRequired
}

// ForceSetReception implements Store. The self-join reads the pre-update row
// so the replaced status comes back with the write.
func (r *Repository) ForceSetReception(ctx context.Context, participantID string, to model.ReceptionStatus, at time.Time) (model.ReceptionStatus, error) {
	var stamp *time.Time
	if to == model.Entered {
		t := at.UTC()
		stamp = &t
	}
	var prev model.ReceptionStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE participants p
		SET reception_status = $2, reception_at = $3
		FROM participants old
		WHERE old.id = p.id AND p.id = $1
		RETURNING old.reception_status
	`, participantID, to, stamp).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return prev, nil
}

// ForceSetAttendance implements Store.
func (r *Repository) ForceSetAttendance(ctx context.Context, participantID, subEventID string, to model.AttendanceStatus, markedBy string, at time.Time) (model.AttendanceStatus, error) {
	var stamp *time.Time
	var actor *string
	if to == model.Present {
		t := at.UTC()
		stamp = &t
		if markedBy != "" {
			actor = &markedBy
		}
	}
	var prev model.AttendanceStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE event_attendance ea
		SET status = $3, marked_at = $4, marked_by = $5
		FROM event_attendance old
		WHERE old.participant_id = ea.participant_id AND old.sub_event_id = ea.sub_event_id
		  AND ea.participant_id = $1 AND ea.sub_event_id = $2
		RETURNING old.status
	`, participantID, subEventID, to, stamp, actor).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return prev, nil
}

// CreateParticipant implements Store.
func (r *Repository) CreateParticipant(ctx context.Context, p model.Participant) (model.Participant, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.DisplayCode = model.NormalizeCode(p.DisplayCode)
	p.Reception = model.NotEntered
	p.ReceptionAt = nil
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO participants (id, tenant_id, display_code, name, reception_status)
		VALUES ($1, $2, $3, $4, 'not_entered')
		ON CONFLICT (tenant_id, display_code) DO NOTHING
		RETURNING created_at
	`, p.ID, p.TenantID, p.DisplayCode, p.Name)
	if err := row.Scan(&p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Participant{}, ErrDuplicateCode
		}
		return model.Participant{}, err
	}
	return p, nil
}

// CreateRegistration implements Store. Re-registering an existing pair keeps
// the current row untouched.
func (r *Repository) CreateRegistration(ctx context.Context, participantID, subEventID string) (model.EventAttendance, error) {
	if _, err := r.GetParticipant(ctx, participantID); err != nil {
		return model.EventAttendance{}, err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_attendance (participant_id, sub_event_id, status)
		VALUES ($1, $2, 'absent')
		ON CONFLICT (participant_id, sub_event_id) DO NOTHING
	`, participantID, subEventID)
	if err != nil {
		return model.EventAttendance{}, err
	}
	return r.GetAttendance(ctx, participantID, subEventID)
}
