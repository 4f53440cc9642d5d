package auditlog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"gatecheck/internal/model"
)

// MemoryLog is the in-process Log. Appends take the lock only to grow the
// slice; ids come from an atomic counter so assignment order matches commit
// order.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []model.ScanLogEntry
	lastID  atomic.Int64
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error) {
	if e.TenantID == "" {
		return model.ScanLogEntry{}, errors.New("auditlog: tenant id required")
	}
	e.ID = l.lastID.Inc()
	e.At = e.At.UTC()
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e, nil
}

// Query implements Log.
func (l *MemoryLog) Query(_ context.Context, f Filter) ([]model.ScanLogEntry, error) {
	if f.TenantID == "" {
		return nil, errors.New("auditlog: tenant id required")
	}
	l.mu.RLock()
	var out []model.ScanLogEntry
	for _, e := range l.entries {
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(e model.ScanLogEntry, f Filter) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.ParticipantID != "" && (e.ParticipantID == nil || *e.ParticipantID != f.ParticipantID) {
		return false
	}
	if f.SubEventID != "" && (e.SubEventID == nil || *e.SubEventID != f.SubEventID) {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.At.After(f.To) {
		return false
	}
	return true
}
