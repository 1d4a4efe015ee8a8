package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-discover/internal/domain"
)

// Redis queue defaults.
const (
	DefaultRedisPrefix = "discover:fleet"
	DefaultJobTTL      = 24 * time.Hour
)

// RedisQueue keeps pending job ids in a sorted set scored by priority and
// enqueue time, and each job's state under its own key. Any number of fleet
// processes may share it.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisQueue returns a queue on client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{client: client, prefix: prefix, ttl: DefaultJobTTL}
}

// NewRedisQueueFromURL parses a redis:// URL and connects lazily.
func NewRedisQueueFromURL(rawURL, prefix string) (*RedisQueue, error) {
	if rawURL == "" {
		rawURL = "redis://127.0.0.1:6379"
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisQueue(redis.NewClient(opts), prefix), nil
}

func (q *RedisQueue) pendingKey() string { return q.prefix + ":pending" }
func (q *RedisQueue) jobKey(id string) string { return q.prefix + ":job:" + id }

func (q *RedisQueue) Push(ctx context.Context, job *Job) (int, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("encode job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, q.ttl)
	pipe.ZAdd(ctx, q.pendingKey(), redis.Z{
		Score:  priorityScore(job.Request.Priority, job.EnqueuedAt),
		Member: job.ID,
	})
	rank := pipe.ZRank(ctx, q.pendingKey(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("push job %s: %w", job.ID, err)
	}
	return int(rank.Val()) + 1, nil
}

func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (*Job, error) {
	res, err := q.client.BZPopMin(ctx, wait, q.pendingKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pop job: %w", err)
	}
	id, ok := res.Member.(string)
	if !ok {
		return nil, fmt.Errorf("pop job: unexpected member %T", res.Member)
	}
	return q.Get(ctx, id)
}

func (q *RedisQueue) Save(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), raw, q.ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Close closes the underlying client.
func (q *RedisQueue) Close() error { return q.client.Close() }
