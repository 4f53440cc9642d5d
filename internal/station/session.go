package station

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"gatecheck/internal/attendance"
	"gatecheck/internal/model"
	"gatecheck/internal/notify"
)

// Session is one scanner client's local view: a disposable read-through
// cache over the roster, kept warm by change notifications. It never owns
// state; outcome reporting always uses the gateway response, the cache only
// short-circuits obviously-done scans for responsiveness.
type Session struct {
	tenantID   string
	subEventID string // empty for reception stations
	roster     attendance.Roster
	notifier   notify.Notifier

	// ResyncEvery adds a periodic full refetch on top of notifications.
	// Zero disables it.
	ResyncEvery time.Duration

	mu        sync.RWMutex
	codes     map[string]string // normalized display code -> participant id
	reception map[string]model.ReceptionStatus
	presence  map[string]model.AttendanceStatus
}

// NewSession creates a session for a tenant; subEventID pins it to one
// sub-event's presence view, empty means a reception station.
func NewSession(roster attendance.Roster, notifier notify.Notifier, tenantID, subEventID string) *Session {
	return &Session{
		tenantID:   tenantID,
		subEventID: subEventID,
		roster:     roster,
		notifier:   notifier,
		codes:      make(map[string]string),
		reception:  make(map[string]model.ReceptionStatus),
		presence:   make(map[string]model.AttendanceStatus),
	}
}

func (s *Session) topic() string {
	if s.subEventID != "" {
		return notify.SubEventTopic(s.subEventID)
	}
	return notify.TopicReception
}

// Run resyncs, subscribes, and applies notifications until ctx is done. A
// dropped stream triggers re-subscribe plus full resync, which at-least-once
// delivery makes safe.
func (s *Session) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.ResyncEvery > 0 {
		t := time.NewTicker(s.ResyncEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Subscribe before the resync so nothing committed in between can
		// be missed.
		stream, err := s.notifier.Subscribe(ctx, s.tenantID, s.topic())
		if err != nil {
			log.Printf("station: subscribe failed, retrying: %v", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.Resync(ctx); err != nil {
			log.Printf("station: resync failed: %v", err)
		}
	consume:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
				if err := s.Resync(ctx); err != nil {
					log.Printf("station: resync failed: %v", err)
				}
			case n, ok := <-stream:
				if !ok {
					break consume
				}
				s.apply(ctx, n)
			}
		}
	}
}

// apply invalidates the affected scope: one participant when the hint names
// one, everything otherwise.
func (s *Session) apply(ctx context.Context, n notify.Notification) {
	if n.ParticipantID == "" {
		if err := s.Resync(ctx); err != nil {
			log.Printf("station: resync failed: %v", err)
		}
		return
	}
	if err := s.refresh(ctx, n.ParticipantID); err != nil {
		log.Printf("station: refresh %s failed: %v", n.ParticipantID, err)
	}
}

// Resync replaces the whole cached view from the roster.
func (s *Session) Resync(ctx context.Context) error {
	participants, err := s.roster.ListParticipants(ctx, s.tenantID)
	if err != nil {
		return err
	}
	codes := make(map[string]string, len(participants))
	reception := make(map[string]model.ReceptionStatus, len(participants))
	for _, p := range participants {
		codes[model.NormalizeCode(p.DisplayCode)] = p.ID
		reception[p.ID] = p.Reception
	}
	presence := make(map[string]model.AttendanceStatus)
	if s.subEventID != "" {
		rows, err := s.roster.ListAttendance(ctx, s.tenantID, s.subEventID)
		if err != nil {
			return err
		}
		for _, a := range rows {
			presence[a.ParticipantID] = a.Status
		}
	}

	s.mu.Lock()
	s.codes = codes
	s.reception = reception
	s.presence = presence
	s.mu.Unlock()
	return nil
}

// refresh re-fetches a single participant's slice of the view.
func (s *Session) refresh(ctx context.Context, participantID string) error {
	p, err := s.roster.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	var status *model.AttendanceStatus
	if s.subEventID != "" {
		a, err := s.roster.GetAttendance(ctx, participantID, s.subEventID)
		if err == nil {
			status = &a.Status
		} else if !errors.Is(err, attendance.ErrNotFound) {
			return err
		}
	}

	s.mu.Lock()
	s.codes[model.NormalizeCode(p.DisplayCode)] = p.ID
	s.reception[p.ID] = p.Reception
	if status != nil {
		s.presence[p.ID] = *status
	}
	s.mu.Unlock()
	return nil
}

// SeemsDone reports whether the cached view says this code's transition has
// already happened. Advisory only; a stale false or true costs one extra
// round-trip, never a wrong authoritative outcome.
func (s *Session) SeemsDone(rawCode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[model.NormalizeCode(rawCode)]
	if !ok {
		return false
	}
	if s.subEventID != "" {
		return s.presence[id] == model.Present
	}
	return s.reception[id] == model.Entered
}

// Counts returns how many cached participants completed this station's
// transition, and the total in scope.
func (s *Session) Counts() (done, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.subEventID != "" {
		for _, st := range s.presence {
			if st == model.Present {
				done++
			}
		}
		return done, len(s.presence)
	}
	for _, st := range s.reception {
		if st == model.Entered {
			done++
		}
	}
	return done, len(s.reception)
}
