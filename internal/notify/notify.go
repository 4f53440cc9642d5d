package notify

import (
	"context"
	"sync"
	"time"
)

// TopicReception is the per-tenant topic for reception entry changes.
const TopicReception = "reception"

// SubEventTopic names the per-tenant topic for one sub-event's presence
// changes.
func SubEventTopic(subEventID string) string {
	return "subevent:" + subEventID
}

// Notification is an advisory "something changed, re-fetch" hint, never the
// authoritative payload. ParticipantID narrows the invalidation; when empty
// the whole scope must be re-fetched.
type Notification struct {
	TenantID      string    `json:"tenant_id"`
	Topic         string    `json:"topic"`
	ParticipantID string    `json:"participant_id,omitempty"`
	SubEventID    string    `json:"sub_event_id,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier fans committed-state hints out to stations. Delivery is
// at-least-once; ordering is only meaningful per participant.
type Notifier interface {
	Publish(ctx context.Context, n Notification) error
	Subscribe(ctx context.Context, tenantID, topic string) (<-chan Notification, error)
}

type subscriber struct {
	mu     sync.Mutex
	closed bool
	ch     chan Notification
}

// deliver hands the hint to the subscriber without ever blocking the
// publisher. When the buffer is full the oldest hint is replaced by a
// scope-wide one, which keeps the "re-fetch" promise intact under lag.
func (s *subscriber) deliver(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- n:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- Notification{TenantID: n.TenantID, Topic: n.Topic, At: n.At}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MemoryBroker is the in-process Notifier for single-node deployments and
// tests.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*subscriber)}
}

func scopeKey(tenantID, topic string) string {
	return tenantID + "\x00" + topic
}

// Publish implements Notifier.
func (b *MemoryBroker) Publish(_ context.Context, n Notification) error {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[scopeKey(n.TenantID, n.Topic)]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.deliver(n)
	}
	return nil
}

// Subscribe implements Notifier. The stream closes when ctx is done.
func (b *MemoryBroker) Subscribe(ctx context.Context, tenantID, topic string) (<-chan Notification, error) {
	sub := &subscriber{ch: make(chan Notification, 256)}
	key := scopeKey(tenantID, topic)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		list := b.subs[key]
		for i, s := range list {
			if s == sub {
				b.subs[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}
