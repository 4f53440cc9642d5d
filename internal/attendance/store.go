package attendance

import (
	"context"
	"errors"
	"time"

	"gatecheck/internal/model"
)

var (
	// ErrNotFound is returned when a participant or registration row does
	// not exist in the queried tenant scope.
	ErrNotFound = errors.New("attendance: not found")

	// ErrReceptionRequired is returned by TrySetAttendance when marking a
	// participant present who has not completed reception entry. The check
	// is evaluated atomically with the write, never as a separate read.
	ErrReceptionRequired = errors.New("attendance: reception entry required")

	// ErrDuplicateCode is returned when registering a display code already
	// taken within the tenant.
	ErrDuplicateCode = errors.New("attendance: display code already in use")
)

// Store is the authoritative holder of reception and per-sub-event presence
// state. Mutations go through compare-and-set primitives only; there is no
// raw field write in the contract, so concurrent scanners for the same
// participant serialize on the CAS and everyone else runs in parallel.
type Store interface {
	Roster

	// TrySetReception moves the participant's reception status from `from`
	// to `to` iff it currently equals `from`. Returns false (and performs
	// no write) when another writer already moved it. The timestamp is
	// stamped iff the target status is Entered.
	TrySetReception(ctx context.Context, participantID string, from, to model.ReceptionStatus, at time.Time) (bool, error)

	// TrySetAttendance is the same contract scoped to one
	// (participant, sub-event) pair. Marking Present additionally requires
	// the participant to be Entered at reception; a violation returns
	// ErrReceptionRequired with no write.
	TrySetAttendance(ctx context.Context, participantID, subEventID string, from, to model.AttendanceStatus, markedBy string, at time.Time) (bool, error)

	// ForceSetReception unconditionally sets the reception status and
	// returns the status it replaced. Admin override path only.
	ForceSetReception(ctx context.Context, participantID string, to model.ReceptionStatus, at time.Time) (model.ReceptionStatus, error)

	// ForceSetAttendance unconditionally sets the presence status for the
	// pair and returns the status it replaced. Admin override path only.
	ForceSetAttendance(ctx context.Context, participantID, subEventID string, to model.AttendanceStatus, markedBy string, at time.Time) (model.AttendanceStatus, error)

	// CreateParticipant ingests a registration-workflow row. Codes are
	// unique per tenant under normalization.
	CreateParticipant(ctx context.Context, p model.Participant) (model.Participant, error)

	// CreateRegistration ingests a (participant, sub-event) registration,
	// starting Absent.
	CreateRegistration(ctx context.Context, participantID, subEventID string) (model.EventAttendance, error)
}

// Roster is the read-only slice of the store used by station sessions and
// reporting.
type Roster interface {
	// ResolveCode looks a participant up by normalized display code within
	// a tenant. ErrNotFound when no match.
	ResolveCode(ctx context.Context, tenantID, code string) (model.Participant, error)

	// GetParticipant fetches one participant by id.
	GetParticipant(ctx context.Context, participantID string) (model.Participant, error)

	// GetAttendance fetches the registration row for a pair. ErrNotFound
	// when the participant is not registered for the sub-event.
	GetAttendance(ctx context.Context, participantID, subEventID string) (model.EventAttendance, error)

	// ListParticipants returns all participants of a tenant.
	ListParticipants(ctx context.Context, tenantID string) ([]model.Participant, error)

	// ListAttendance returns all registrations of a tenant's sub-event.
	ListAttendance(ctx context.Context, tenantID, subEventID string) ([]model.EventAttendance, error)
}
