package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatecheck/internal/model"
)

func seedStore(t *testing.T) (*MemoryStore, model.Participant) {
	t.Helper()
	s := NewMemoryStore()
	p, err := s.CreateParticipant(context.Background(), model.Participant{
		TenantID:    "t1",
		DisplayCode: "abc-123",
		Name:        "Ada",
	})
	require.NoError(t, err)
	_, err = s.CreateRegistration(context.Background(), p.ID, "e1")
	require.NoError(t, err)
	return s, p
}

func TestResolveCode(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()

	got, err := s.ResolveCode(ctx, "t1", "  ABC-123 ")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, model.NotEntered, got.Reception)

	_, err = s.ResolveCode(ctx, "t2", "abc-123")
	assert.ErrorIs(t, err, ErrNotFound, "codes are tenant scoped")

	_, err = s.ResolveCode(ctx, "t1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateParticipant_DuplicateCode(t *testing.T) {
	s, _ := seedStore(t)
	_, err := s.CreateParticipant(context.Background(), model.Participant{
		TenantID:    "t1",
		DisplayCode: "ABC-123", // same code after normalization
	})
	assert.ErrorIs(t, err, ErrDuplicateCode)

	// Same code in another tenant is fine.
	_, err = s.CreateParticipant(context.Background(), model.Participant{
		TenantID:    "t2",
		DisplayCode: "abc-123",
	})
	assert.NoError(t, err)
}

func TestTrySetReception(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Entered, got.Reception)
	require.NotNil(t, got.ReceptionAt)
	assert.Equal(t, now, *got.ReceptionAt)

	ok, err = s.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second writer must lose the CAS")

	after, err := s.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, now, *after.ReceptionAt, "losing CAS must not touch the timestamp")

	_, err = s.TrySetReception(ctx, "missing", model.NotEntered, model.Entered, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrySetReception_Concurrent(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, time.Now())
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent caller may win the transition")
}

func TestTrySetAttendance_ReceptionRequired(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()

	_, err := s.TrySetAttendance(ctx, p.ID, "e1", model.Absent, model.Present, "staff-1", time.Now())
	assert.ErrorIs(t, err, ErrReceptionRequired)

	a, err := s.GetAttendance(ctx, p.ID, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.Absent, a.Status, "violation must not mutate")

	ok, err := s.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TrySetAttendance(ctx, p.ID, "e1", model.Absent, model.Present, "staff-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	a, err = s.GetAttendance(ctx, p.ID, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.Present, a.Status)
	require.NotNil(t, a.MarkedBy)
	assert.Equal(t, "staff-1", *a.MarkedBy)
	assert.NotNil(t, a.MarkedAt)
}

func TestTrySetAttendance_UnknownPair(t *testing.T) {
	s, p := seedStore(t)
	_, err := s.TrySetAttendance(context.Background(), p.ID, "e9", model.Absent, model.Present, "", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForceSet(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()

	prev, err := s.ForceSetReception(ctx, p.ID, model.Entered, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.NotEntered, prev)

	prev, err = s.ForceSetReception(ctx, p.ID, model.NotEntered, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.Entered, prev)

	got, err := s.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReceptionAt, "undoing entry clears the timestamp")

	// Force-marking present skips the reception precondition.
	prevA, err := s.ForceSetAttendance(ctx, p.ID, "e1", model.Present, "admin-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.Absent, prevA)

	a, err := s.GetAttendance(ctx, p.ID, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.Present, a.Status)

	prevA, err = s.ForceSetAttendance(ctx, p.ID, "e1", model.Absent, "admin-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.Present, prevA)

	a, err = s.GetAttendance(ctx, p.ID, "e1")
	require.NoError(t, err)
	assert.Nil(t, a.MarkedAt)
	assert.Nil(t, a.MarkedBy)
}

func TestListRoster(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()

	participants, err := s.ListParticipants(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, p.ID, participants[0].ID)

	rows, err := s.ListAttendance(ctx, "t1", "e1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.Absent, rows[0].Status)

	rows, err = s.ListAttendance(ctx, "t2", "e1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateRegistration_Idempotent(t *testing.T) {
	s, p := seedStore(t)
	ctx := context.Background()

	ok, err := s.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TrySetAttendance(ctx, p.ID, "e1", model.Absent, model.Present, "", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	row, err := s.CreateRegistration(ctx, p.ID, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.Present, row.Status, "re-registering keeps the existing row")
}
