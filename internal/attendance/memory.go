package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"gatecheck/internal/model"
)

// receptionState is an immutable snapshot of a participant's reception
// fields. Transitions swap the whole snapshot so status and timestamp can
// never be observed out of step.
type receptionState struct {
	status model.ReceptionStatus
	at     *time.Time
}

type attendanceState struct {
	status   model.AttendanceStatus
	at       *time.Time
	markedBy *string
}

type memParticipant struct {
	id          string
	tenantID    string
	displayCode string
	name        string
	createdAt   time.Time
	reception   atomic.Pointer[receptionState]
}

type memAttendance struct {
	participantID string
	subEventID    string
	state         atomic.Pointer[attendanceState]
}

type pairKey struct {
	participantID string
	subEventID    string
}

// MemoryStore is the in-process Store. Records mutate via lock-free pointer
// CAS; the mutex only guards the lookup maps, which the scan path touches
// with read locks.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]*memParticipant
	codes        map[string]string // tenant "\x00" normalized code -> participant id
	pairs        map[pairKey]*memAttendance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]*memParticipant),
		codes:        make(map[string]string),
		pairs:        make(map[pairKey]*memAttendance),
	}
}

func codeKey(tenantID, code string) string {
	return tenantID + "\x00" + model.NormalizeCode(code)
}

func (s *MemoryStore) participant(id string) *memParticipant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[id]
}

func (s *MemoryStore) pair(participantID, subEventID string) *memAttendance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairs[pairKey{participantID, subEventID}]
}

func (p *memParticipant) snapshot() model.Participant {
	st := p.reception.Load()
	return model.Participant{
		ID:          p.id,
		TenantID:    p.tenantID,
		DisplayCode: p.displayCode,
		Name:        p.name,
		Reception:   st.status,
		ReceptionAt: st.at,
		CreatedAt:   p.createdAt,
	}
}

func (a *memAttendance) snapshot() model.EventAttendance {
	st := a.state.Load()
	return model.EventAttendance{
		ParticipantID: a.participantID,
		SubEventID:    a.subEventID,
		Status:        st.status,
		MarkedAt:      st.at,
		MarkedBy:      st.markedBy,
	}
}

// ResolveCode implements Roster.
func (s *MemoryStore) ResolveCode(_ context.Context, tenantID, code string) (model.Participant, error) {
	s.mu.RLock()
	id, ok := s.codes[codeKey(tenantID, code)]
	p := s.participants[id]
	s.mu.RUnlock()
	if !ok || p == nil {
		return model.Participant{}, ErrNotFound
	}
	return p.snapshot(), nil
}

// GetParticipant implements Roster.
func (s *MemoryStore) GetParticipant(_ context.Context, participantID string) (model.Participant, error) {
	p := s.participant(participantID)
	if p == nil {
		return model.Participant{}, ErrNotFound
	}
	return p.snapshot(), nil
}

// GetAttendance implements Roster.
func (s *MemoryStore) GetAttendance(_ context.Context, participantID, subEventID string) (model.EventAttendance, error) {
	a := s.pair(participantID, subEventID)
	if a == nil {
		return model.EventAttendance{}, ErrNotFound
	}
	return a.snapshot(), nil
}

// ListParticipants implements Roster. Results are ordered by creation time
// then id for stable roster views.
func (s *MemoryStore) ListParticipants(_ context.Context, tenantID string) ([]model.Participant, error) {
	s.mu.RLock()
	out := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.tenantID == tenantID {
			out = append(out, p.snapshot())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListAttendance implements Roster.
func (s *MemoryStore) ListAttendance(_ context.Context, tenantID, subEventID string) ([]model.EventAttendance, error) {
	s.mu.RLock()
	var out []model.EventAttendance
	for _, a := range s.pairs {
		if a.subEventID != subEventID {
			continue
		}
		if p := s.participants[a.participantID]; p != nil && p.tenantID == tenantID {
			out = append(out, a.snapshot())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

// TrySetReception implements Store. The pointer CAS is the serialization
// point: exactly one concurrent caller wins a given transition.
func (s *MemoryStore) TrySetReception(_ context.Context, participantID string, from, to model.ReceptionStatus, at time.Time) (bool, error) {
	p := s.participant(participantID)
	if p == nil {
		return false, ErrNotFound
	}
	for {
		cur := p.reception.Load()
		if cur.status != from {
			return false, nil
		}
		next := &receptionState{status: to}
		if to == model.Entered {
			t := at.UTC()
			next.at = &t
		}
		if p.reception.CompareAndSwap(cur, next) {
			return true, nil
		}
	}
}

// TrySetAttendance implements Store. Marking Present re-validates reception
// entry immediately before the CAS attempt, so a stale earlier read cannot
// smuggle a presence mark past an un-entered participant.
func (s *MemoryStore) TrySetAttendance(_ context.Context, participantID, subEventID string, from, to model.AttendanceStatus, markedBy string, at time.Time) (bool, error) {
	a := s.pair(participantID, subEventID)
	if a == nil {
		return false, ErrNotFound
	}
	p := s.participant(participantID)
	if p == nil {
		return false, ErrNotFound
	}
	for {
		cur := a.state.Load()
		if cur.status != from {
			return false, nil
		}
		if to == model.Present && p.reception.Load().status != model.Entered {
			return false, ErrReceptionRequired
		}
		next := &attendanceState{status: to}
		if to == model.Present {
			t := at.UTC()
			next.at = &t
			if markedBy != "" {
				mb := markedBy
				next.markedBy = &mb
			}
		}
		if a.state.CompareAndSwap(cur, next) {
			return true, nil
		}
	}
}

// ForceSetReception implements Store.
func (s *MemoryStore) ForceSetReception(_ context.Context, participantID string, to model.ReceptionStatus, at time.Time) (model.ReceptionStatus, error) {
	p := s.participant(participantID)
	if p == nil {
		return "", ErrNotFound
	}
	next := &receptionState{status: to}
	if to == model.Entered {
		t := at.UTC()
		next.at = &t
	}
	prev := p.reception.Swap(next)
	return prev.status, nil
}

// ForceSetAttendance implements Store.
func (s *MemoryStore) ForceSetAttendance(_ context.Context, participantID, subEventID string, to model.AttendanceStatus, markedBy string, at time.Time) (model.AttendanceStatus, error) {
	a := s.pair(participantID, subEventID)
	if a == nil {
		return "", ErrNotFound
	}
	next := &attendanceState{status: to}
	if to == model.Present {
		t := at.UTC()
		next.at = &t
		if markedBy != "" {
			mb := markedBy
			next.markedBy = &mb
		}
	}
	prev := a.state.Swap(next)
	return prev.status, nil
}

// CreateParticipant implements Store.
func (s *MemoryStore) CreateParticipant(_ context.Context, p model.Participant) (model.Participant, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Reception = model.NotEntered
	p.ReceptionAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	key := codeKey(p.TenantID, p.DisplayCode)
	if _, taken := s.codes[key]; taken {
		return model.Participant{}, ErrDuplicateCode
	}
	rec := &memParticipant{
		id:          p.ID,
		tenantID:    p.TenantID,
		displayCode: p.DisplayCode,
		name:        p.Name,
		createdAt:   p.CreatedAt,
	}
	rec.reception.Store(&receptionState{status: model.NotEntered})
	s.participants[p.ID] = rec
	s.codes[key] = p.ID
	return p, nil
}

// CreateRegistration implements Store. Re-registering an existing pair is a
// no-op returning the current row.
func (s *MemoryStore) CreateRegistration(_ context.Context, participantID, subEventID string) (model.EventAttendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participantID]; !ok {
		return model.EventAttendance{}, ErrNotFound
	}
	key := pairKey{participantID, subEventID}
	if existing, ok := s.pairs[key]; ok {
		return existing.snapshot(), nil
	}
	rec := &memAttendance{participantID: participantID, subEventID: subEventID}
	rec.state.Store(&attendanceState{status: model.Absent})
	s.pairs[key] = rec
	return rec.snapshot(), nil
}
