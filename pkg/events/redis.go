package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis sink defaults.
const (
	DefaultRedisChannel = "discover:events"
	dedupTTL            = 24 * time.Hour
)

type redisPublisher interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes envelopes on a Redis pub/sub channel, skipping keys
// already published within the dedup window.
type RedisSink struct {
	client  redisPublisher
	channel string
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return newRedisSink(client, channel)
}

func newRedisSink(client redisPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Append implements EventSink.
func (s *RedisSink) Append(ctx context.Context, env Envelope) error {
	fresh, err := s.client.SetNX(ctx, s.channel+":seen:"+env.IdempotencyKey, env.ID, dedupTTL).Result()
	if err != nil {
		return fmt.Errorf("dedup event: %w", err)
	}
	if !fresh {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
