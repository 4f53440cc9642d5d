package auditlog

import (
	"context"
	"time"

	"gatecheck/internal/model"
)

// Log is the append-only scan audit trail. There is no update or delete in
// the contract; reporting reads it, authoritative state never does.
type Log interface {
	// Append stores the entry and returns it with its assigned id. Ids are
	// monotonically increasing within a log.
	Append(ctx context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error)

	// Query returns entries matching the filter, ordered by timestamp
	// ascending, id ascending on ties.
	Query(ctx context.Context, f Filter) ([]model.ScanLogEntry, error)
}

// Filter narrows a Query. Zero-valued fields are ignored; TenantID is
// required because tenants never see each other's scans.
type Filter struct {
	TenantID      string
	ParticipantID string
	SubEventID    string
	From          time.Time
	To            time.Time
	Limit         int
}
