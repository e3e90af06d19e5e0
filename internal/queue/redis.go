package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue backs the Queue contract with a Redis list, giving the
// scheduler's monitor process and any number of worker processes a shared
// FIFO across the process boundary (spec §4.4, "crosses the process
// boundary between the scheduler-owning monitor and worker processes").
type RedisQueue struct {
	client   redis.UniversalClient
	key      string
	capacity int
}

// NewRedisQueue constructs a RedisQueue backed by client, pushing/popping
// from the Redis list at key. capacity<=0 means unbounded.
func NewRedisQueue(client redis.UniversalClient, key string, capacity int) *RedisQueue {
	return &RedisQueue{client: client, key: key, capacity: capacity}
}

// Put appends msg to the tail of the list, failing with ErrFull once the
// list reaches capacity.
func (q *RedisQueue) Put(ctx context.Context, msg Message) error {
	if q.capacity > 0 {
		length, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("queue: llen: %w", err)
		}
		if length >= int64(q.capacity) {
			return ErrFull
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: rpush: %w", err)
	}
	return nil
}

// Get blocks on the head of the list via BLPOP until a message arrives,
// timeout elapses, or ctx is done.
func (q *RedisQueue) Get(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, false, ctx.Err()
		}
		return Message{}, false, fmt.Errorf("queue: blpop: %w", err)
	}
	// result is [key, value]; BLPop guarantees two elements on success.
	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return Message{}, false, fmt.Errorf("queue: unmarshal message: %w", err)
	}
	return msg, true, nil
}

// Qsize reports the Redis list length, or -1 if the call fails.
func (q *RedisQueue) Qsize(ctx context.Context) int {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return -1
	}
	return int(n)
}

var _ Queue = (*RedisQueue)(nil)

// RedisWaiter adapts a redis pub/sub channel into the queue.Waiter
// contract, letting DefaultNotifier fan a single subscription out to
// multiple local WaitForTerminal-style callers watching for new work on
// the same key.
type RedisWaiter struct {
	client redis.UniversalClient
}

// NewRedisWaiter constructs a RedisWaiter over client.
func NewRedisWaiter(client redis.UniversalClient) *RedisWaiter {
	return &RedisWaiter{client: client}
}

// WaitForNotification blocks until a message is published on the
// "relayq:notify:<key>" channel or ctx is done.
func (w *RedisWaiter) WaitForNotification(ctx context.Context, key string) error {
	sub := w.client.Subscribe(ctx, "relayq:notify:"+key)
	defer sub.Close()

	select {
	case <-sub.Channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Waiter = (*RedisWaiter)(nil)
