package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueStockSync is the Redis list holding external stock pushes.
const QueueStockSync = "jobs:stock-sync"

// RedisQueue is a Redis list consumed with BRPOP. Jobs survive restarts.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue connects to url (redis://host:port/db) and pings it.
func NewRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("worker: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("worker: redis ping: %w", err)
	}
	return &RedisQueue{rdb: rdb, key: QueueStockSync}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, encoded).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	result, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	if len(result) < 2 {
		return Job{}, false, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("worker: decode job: %w", err)
	}
	return job, true, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job Job, reason string) error {
	data, err := json.Marshal(newDLQEntry(q.key, job, reason))
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, DLQPrefix+q.key, data).Err()
}

func (q *RedisQueue) DeadLetterLen(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, DLQPrefix+q.key).Result()
}

// Close releases the Redis connection pool.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
