package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier fans hints out over Redis Pub/Sub so stations behind
// different API nodes still converge.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier builds a notifier publishing on prefixed channels.
func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "gatecheck"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

func (r *RedisNotifier) channel(tenantID, topic string) string {
	return r.prefix + ":" + tenantID + ":" + topic
}

// Publish implements Notifier.
func (r *RedisNotifier) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(n.TenantID, n.Topic), payload).Err()
}

// Subscribe implements Notifier. The stream closes when ctx is done or the
// connection drops; callers re-subscribe and resync, which at-least-once
// delivery permits.
func (r *RedisNotifier) Subscribe(ctx context.Context, tenantID, topic string) (<-chan Notification, error) {
	pubsub := r.client.Subscribe(ctx, r.channel(tenantID, topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Notification, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					log.Printf("notify: bad payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
