package model

import (
	"strings"
	"time"
)

// ScanKind identifies which transition a scan requests.
type ScanKind string

const (
	ScanReception     ScanKind = "reception"
	ScanEvent         ScanKind = "event_attendance"
	ScanAdminOverride ScanKind = "admin_override"
)

// Valid reports whether the kind is one of the known scan kinds.
func (k ScanKind) Valid() bool {
	switch k {
	case ScanReception, ScanEvent, ScanAdminOverride:
		return true
	}
	return false
}

// ScanOutcome is the resolved result of a scan attempt. Outcomes are values,
// not errors; every outcome is written to the scan log.
type ScanOutcome string

const (
	OutcomeSuccess            ScanOutcome = "success"
	OutcomeAlreadyDone        ScanOutcome = "already_done"
	OutcomePreconditionFailed ScanOutcome = "precondition_failed"
	OutcomeNotFound           ScanOutcome = "not_found"
	OutcomeUndo               ScanOutcome = "undo"
)

// ReceptionStatus is the gate-level check-in state of a participant.
type ReceptionStatus string

const (
	NotEntered ReceptionStatus = "not_entered"
	Entered    ReceptionStatus = "entered"
)

// AttendanceStatus is the per-sub-event presence state.
type AttendanceStatus string

const (
	Absent  AttendanceStatus = "absent"
	Present AttendanceStatus = "present"
)

// Participant is one registrant within a tenant. Rows are created by the
// registration workflow; only the reception fields are mutated here.
type Participant struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	DisplayCode string          `json:"display_code"`
	Name        string          `json:"name,omitempty"`
	Reception   ReceptionStatus `json:"reception_status"`
	ReceptionAt *time.Time      `json:"reception_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EventAttendance is the presence record for one (participant, sub-event)
// pair. A row exists iff the participant is registered for the sub-event.
type EventAttendance struct {
	ParticipantID string           `json:"participant_id"`
	SubEventID    string           `json:"sub_event_id"`
	Status        AttendanceStatus `json:"attendance_status"`
	MarkedAt      *time.Time       `json:"marked_at,omitempty"`
	MarkedBy      *string          `json:"marked_by,omitempty"`
}

// ScanLogEntry is one append-only audit record. ParticipantID is nil when the
// scanned code did not resolve; SubEventID is set only for sub-event scans.
type ScanLogEntry struct {
	ID            int64       `json:"id"`
	TenantID      string      `json:"tenant_id"`
	ParticipantID *string     `json:"participant_id,omitempty"`
	ActorID       *string     `json:"actor_id,omitempty"`
	SubEventID    *string     `json:"sub_event_id,omitempty"`
	Kind          ScanKind    `json:"scan_kind"`
	Outcome       ScanOutcome `json:"outcome"`
	At            time.Time   `json:"timestamp"`
}

// NormalizeCode canonicalizes a scanned or typed code for lookup: surrounding
// whitespace is stripped and the code is case-folded. Codes are unique per
// tenant under this normalization.
func NormalizeCode(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
