package station

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatecheck/internal/attendance"
	"gatecheck/internal/model"
	"gatecheck/internal/notify"
)

func seed(t *testing.T) (*attendance.MemoryStore, model.Participant) {
	t.Helper()
	s := attendance.NewMemoryStore()
	p, err := s.CreateParticipant(context.Background(), model.Participant{
		TenantID:    "t1",
		DisplayCode: "ABC-123",
	})
	require.NoError(t, err)
	_, err = s.CreateRegistration(context.Background(), p.ID, "e1")
	require.NoError(t, err)
	return s, p
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestResyncAndSeemsDone(t *testing.T) {
	s, p := seed(t)
	sess := NewSession(s, notify.NewMemoryBroker(), "t1", "")

	require.NoError(t, sess.Resync(context.Background()))
	assert.False(t, sess.SeemsDone("abc-123"))
	assert.False(t, sess.SeemsDone("unknown"))

	ok, err := s.TrySetReception(context.Background(), p.ID, model.NotEntered, model.Entered, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	// Stale until invalidated; the cache is advisory, not authoritative.
	assert.False(t, sess.SeemsDone("abc-123"))
	require.NoError(t, sess.Resync(context.Background()))
	assert.True(t, sess.SeemsDone("ABC-123 "))

	done, total := sess.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, total)
}

func TestNotificationInvalidatesParticipant(t *testing.T) {
	s, p := seed(t)
	broker := notify.NewMemoryBroker()
	sess := NewSession(s, broker, "t1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	eventually(t, func() bool { _, total := sess.Counts(); return total == 1 }, "initial resync never completed")

	ok, err := s.TrySetReception(ctx, p.ID, model.NotEntered, model.Entered, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, broker.Publish(ctx, notify.Notification{
		TenantID:      "t1",
		Topic:         notify.TopicReception,
		ParticipantID: p.ID,
		At:            time.Now(),
	}))

	eventually(t, func() bool { return sess.SeemsDone("abc-123") }, "notification did not refresh the cache")
}

func TestScopeWideHintTriggersFullResync(t *testing.T) {
	s, p := seed(t)
	broker := notify.NewMemoryBroker()
	sess := NewSession(s, broker, "t1", "e1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	eventually(t, func() bool { _, total := sess.Counts(); return total == 1 }, "initial resync never completed")

	_, err := s.ForceSetAttendance(ctx, p.ID, "e1", model.Present, "admin-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, notify.Notification{
		TenantID: "t1",
		Topic:    notify.SubEventTopic("e1"),
		At:       time.Now(),
	}))

	eventually(t, func() bool { return sess.SeemsDone("abc-123") }, "scope-wide hint did not resync")
}

func TestSubEventSessionCounts(t *testing.T) {
	s, p := seed(t)
	sess := NewSession(s, notify.NewMemoryBroker(), "t1", "e1")
	ctx := context.Background()

	require.NoError(t, sess.Resync(ctx))
	done, total := sess.Counts()
	assert.Equal(t, 0, done)
	assert.Equal(t, 1, total)

	_, err := s.ForceSetAttendance(ctx, p.ID, "e1", model.Present, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, sess.Resync(ctx))

	done, total = sess.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, total)
	assert.True(t, sess.SeemsDone("abc-123"))
}
