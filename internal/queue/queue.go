// Package queue hands accepted jobs from the HTTP layer to the worker
// through a Redis list. The handoff is explicit: the enqueue call and
// the worker loop are the only two touch points.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// popTimeout bounds each blocking pop so the worker re-checks its
// context at least this often.
const popTimeout = 5 * time.Second

// Queue is a Redis-backed FIFO of job IDs.
type Queue struct {
	client *redis.Client
	key    string
}

// New connects to Redis at the given URL and uses key as the list name.
func New(redisURL, key string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &Queue{
		client: redis.NewClient(opts),
		key:    key,
	}, nil
}

// NewWithClient wraps an existing Redis client. Used in tests.
func NewWithClient(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue pushes a job ID onto the queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Pop blocks for up to popTimeout waiting for a job ID. An empty
// string with nil error means the wait timed out; callers loop.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	vals, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pop job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(vals))
	}
	return vals[1], nil
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
