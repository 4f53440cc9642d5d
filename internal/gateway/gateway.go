package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gatecheck/internal/attendance"
	"gatecheck/internal/auditlog"
	"gatecheck/internal/model"
	"gatecheck/internal/notify"
)

// ErrStoreUnavailable wraps infrastructure failures reaching the store or the
// audit log. Callers must treat it as unknown outcome: the mutation may have
// committed before the failure was observed, so the only safe recovery is a
// fresh SubmitScan, never a blind write retry. No audit entry exists for
// these attempts.
var ErrStoreUnavailable = errors.New("gateway: store unavailable")

// ScanRequest is one scan attempt from a station.
type ScanRequest struct {
	TenantID   string
	RawCode    string
	Kind       model.ScanKind
	SubEventID string // required for event scans; selects the field for overrides
	ActorID    string // staff identity, trusted as given

	// Set is the explicit target state for admin overrides:
	// "entered"/"not_entered" when SubEventID is empty,
	// "present"/"absent" when it is set. Ignored for other kinds.
	Set string
}

// ScanResult is the authoritative outcome of one attempt. Participant is nil
// when the code did not resolve.
type ScanResult struct {
	Outcome     model.ScanOutcome  `json:"outcome"`
	Participant *model.Participant `json:"participant,omitempty"`
	Entry       model.ScanLogEntry `json:"entry"`
}

// Gateway validates scans, applies transitions through the store's CAS
// primitives, writes the audit trail, and publishes change hints after
// commit. Business outcomes are values; only infrastructure failures are
// errors.
type Gateway struct {
	store    attendance.Store
	log      auditlog.Log
	notifier notify.Notifier
	now      func() time.Time
}

// New creates a gateway.
func New(store attendance.Store, auditLog auditlog.Log, notifier notify.Notifier) *Gateway {
	return &Gateway{
		store:    store,
		log:      auditLog,
		notifier: notifier,
		now:      time.Now,
	}
}

// SubmitScan processes one attempt. Exactly one audit entry is appended per
// call that reaches resolution, whatever the outcome; malformed requests are
// rejected up front and are not considered attempts.
func (g *Gateway) SubmitScan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	if err := validate(req); err != nil {
		return ScanResult{}, err
	}
	now := g.now().UTC()

	p, err := g.store.ResolveCode(ctx, req.TenantID, model.NormalizeCode(req.RawCode))
	if err != nil && !errors.Is(err, attendance.ErrNotFound) {
		return g.unavailable(req, err)
	}

	var (
		outcome  model.ScanOutcome
		resolved *model.Participant
	)
	if errors.Is(err, attendance.ErrNotFound) {
		outcome = model.OutcomeNotFound
	} else {
		resolved = &p
		switch req.Kind {
		case model.ScanReception:
			outcome, err = g.reception(ctx, &p, now)
		case model.ScanEvent:
			outcome, err = g.eventAttendance(ctx, &p, req, now)
		case model.ScanAdminOverride:
			outcome, err = g.adminOverride(ctx, &p, req, now)
		}
		if err != nil {
			return g.unavailable(req, err)
		}
	}

	entry, err := g.log.Append(ctx, buildEntry(req, resolved, outcome, now))
	if err != nil {
		return g.unavailable(req, err)
	}
	scansTotal.WithLabelValues(string(req.Kind), string(outcome)).Inc()

	// Publish strictly after the commit and its audit entry, and only when
	// state actually changed.
	if outcome == model.OutcomeSuccess || outcome == model.OutcomeUndo {
		g.publish(ctx, req, resolved, now)
	}

	return ScanResult{Outcome: outcome, Participant: resolved, Entry: entry}, nil
}

func validate(req ScanRequest) error {
	if req.TenantID == "" {
		return errors.New("gateway: tenant id required")
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("gateway: unknown scan kind %q", req.Kind)
	}
	if req.Kind == model.ScanEvent && req.SubEventID == "" {
		return errors.New("gateway: sub_event_id required for event scans")
	}
	if req.Kind == model.ScanAdminOverride {
		if req.SubEventID == "" {
			if req.Set != string(model.Entered) && req.Set != string(model.NotEntered) {
				return fmt.Errorf("gateway: override set must be %q or %q", model.Entered, model.NotEntered)
			}
		} else if req.Set != string(model.Present) && req.Set != string(model.Absent) {
			return fmt.Errorf("gateway: override set must be %q or %q", model.Present, model.Absent)
		}
	}
	return nil
}

// reception applies the gate check-in. A lost CAS means another station
// already completed the same transition, so the outcome resolves to
// ALREADY_DONE rather than a retried write.
func (g *Gateway) reception(ctx context.Context, p *model.Participant, now time.Time) (model.ScanOutcome, error) {
	if p.Reception == model.Entered {
		return model.OutcomeAlreadyDone, nil
	}
	ok, err := g.store.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, now)
	if errors.Is(err, attendance.ErrNotFound) {
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return model.OutcomeAlreadyDone, nil
	}
	p.Reception = model.Entered
	p.ReceptionAt = &now
	return model.OutcomeSuccess, nil
}

func (g *Gateway) eventAttendance(ctx context.Context, p *model.Participant, req ScanRequest, now time.Time) (model.ScanOutcome, error) {
	a, err := g.store.GetAttendance(ctx, p.ID, req.SubEventID)
	if errors.Is(err, attendance.ErrNotFound) {
		// Resolved participant, but not registered for this sub-event.
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if p.Reception != model.Entered {
		return model.OutcomePreconditionFailed, nil
	}
	if a.Status == model.Present {
		return model.OutcomeAlreadyDone, nil
	}
	ok, err := g.store.TrySetAttendance(ctx, p.ID, req.SubEventID, model.Absent, model.Present, req.ActorID, now)
	if errors.Is(err, attendance.ErrReceptionRequired) {
		return model.OutcomePreconditionFailed, nil
	}
	if errors.Is(err, attendance.ErrNotFound) {
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return model.OutcomeAlreadyDone, nil
	}
	return model.OutcomeSuccess, nil
}

// adminOverride sets either field to an explicit target, bypassing the
// reception ordering. Reversing a transition is reported as UNDO.
func (g *Gateway) adminOverride(ctx context.Context, p *model.Participant, req ScanRequest, now time.Time) (model.ScanOutcome, error) {
	if req.SubEventID == "" {
		to := model.ReceptionStatus(req.Set)
		prev, err := g.store.ForceSetReception(ctx, p.ID, to, now)
		if errors.Is(err, attendance.ErrNotFound) {
			return model.OutcomeNotFound, nil
		}
		if err != nil {
			return "", err
		}
		return overrideOutcome(prev == to, to == model.Entered), nil
	}
	to := model.AttendanceStatus(req.Set)
	prev, err := g.store.ForceSetAttendance(ctx, p.ID, req.SubEventID, to, req.ActorID, now)
	if errors.Is(err, attendance.ErrNotFound) {
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return overrideOutcome(prev == to, to == model.Present), nil
}

func overrideOutcome(unchanged, forward bool) model.ScanOutcome {
	switch {
	case unchanged:
		return model.OutcomeAlreadyDone
	case forward:
		return model.OutcomeSuccess
	default:
		return model.OutcomeUndo
	}
}

func buildEntry(req ScanRequest, p *model.Participant, outcome model.ScanOutcome, now time.Time) model.ScanLogEntry {
	e := model.ScanLogEntry{
		TenantID: req.TenantID,
		Kind:     req.Kind,
		Outcome:  outcome,
		At:       now,
	}
	if p != nil {
		id := p.ID
		e.ParticipantID = &id
	}
	if req.ActorID != "" {
		actor := req.ActorID
		e.ActorID = &actor
	}
	if req.SubEventID != "" {
		sub := req.SubEventID
		e.SubEventID = &sub
	}
	return e
}

func (g *Gateway) publish(ctx context.Context, req ScanRequest, p *model.Participant, now time.Time) {
	n := notify.Notification{
		TenantID: req.TenantID,
		Topic:    notify.TopicReception,
		At:       now,
	}
	if p != nil {
		n.ParticipantID = p.ID
	}
	if req.SubEventID != "" {
		n.Topic = notify.SubEventTopic(req.SubEventID)
		n.SubEventID = req.SubEventID
	}
	// A lost hint is tolerable: delivery is advisory and stations resync.
	if err := g.notifier.Publish(ctx, n); err != nil {
		log.Printf("gateway: publish failed for tenant %s topic %s: %v", n.TenantID, n.Topic, err)
	}
}

func (g *Gateway) unavailable(req ScanRequest, err error) (ScanResult, error) {
	scanFailures.WithLabelValues(string(req.Kind)).Inc()
	return ScanResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
