package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := b.Subscribe(ctx, "t1", TopicReception)
	require.NoError(t, err)

	n := Notification{TenantID: "t1", Topic: TopicReception, ParticipantID: "p1", At: time.Now()}
	require.NoError(t, b.Publish(ctx, n))

	select {
	case got := <-stream:
		assert.Equal(t, "p1", got.ParticipantID)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestScoping(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherTenant, err := b.Subscribe(ctx, "t2", TopicReception)
	require.NoError(t, err)
	otherTopic, err := b.Subscribe(ctx, "t1", SubEventTopic("e1"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Notification{TenantID: "t1", Topic: TopicReception, ParticipantID: "p1"}))

	select {
	case n := <-otherTenant:
		t.Fatalf("tenant t2 saw t1's notification %+v", n)
	case n := <-otherTopic:
		t.Fatalf("sub-event topic saw reception notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPerParticipantOrdering(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := b.Subscribe(ctx, "t1", TopicReception)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, Notification{
			TenantID:      "t1",
			Topic:         TopicReception,
			ParticipantID: "p1",
			At:            time.Unix(int64(i), 0),
		}))
	}
	for i := 0; i < 10; i++ {
		select {
		case got := <-stream:
			assert.Equal(t, time.Unix(int64(i), 0), got.At, "sequential publishes arrive in commit order")
		case <-time.After(time.Second):
			t.Fatal("stream stalled")
		}
	}
}

func TestUnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := b.Subscribe(ctx, "t1", TopicReception)
	require.NoError(t, err)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				// Publishing after close must not panic.
				assert.NoError(t, b.Publish(context.Background(), Notification{TenantID: "t1", Topic: TopicReception}))
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}

func TestOverflowCoalescesToScopeHint(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := b.Subscribe(ctx, "t1", TopicReception)
	require.NoError(t, err)

	// Flood well past the buffer without draining.
	for i := 0; i < 600; i++ {
		require.NoError(t, b.Publish(ctx, Notification{
			TenantID:      "t1",
			Topic:         TopicReception,
			ParticipantID: "p1",
		}))
	}

	sawScopeWide := false
	for {
		select {
		case n := <-stream:
			if n.ParticipantID == "" {
				sawScopeWide = true
			}
		case <-time.After(100 * time.Millisecond):
			assert.True(t, sawScopeWide, "a lagging subscriber must still be told to re-fetch the scope")
			return
		}
	}
}
