package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed Queue for deployments where multiple consumer
// instances share one queue. Layout per queue name:
//
//	<name>:pending   list of message IDs awaiting delivery
//	<name>:inflight  zset of message IDs scored by visibility expiry (unix ms)
//	<name>:dead      list of dead-lettered message IDs
//	<name>:msg:<id>  hash {body, receive_count}
//
// Coordination between instances relies entirely on these structures; there
// is no cross-process lock.
type RedisQueue struct {
	client          *redis.Client
	name            string
	maxReceiveCount int
}

// NewRedisQueue constructs a RedisQueue over an existing client.
func NewRedisQueue(client *redis.Client, name string, maxReceiveCount int) *RedisQueue {
	return &RedisQueue{
		client:          client,
		name:            name,
		maxReceiveCount: maxReceiveCount,
	}
}

func (q *RedisQueue) pendingKey() string  { return q.name + ":pending" }
func (q *RedisQueue) inflightKey() string { return q.name + ":inflight" }
func (q *RedisQueue) deadKey() string     { return q.name + ":dead" }
func (q *RedisQueue) msgKey(id string) string {
	return q.name + ":msg:" + id
}

// Send enqueues a message body.
func (q *RedisQueue) Send(ctx context.Context, body []byte) error {
	id := uuid.New().String()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(id), "body", body, "receive_count", 0)
	pipe.LPush(ctx, q.pendingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue send: %w", err)
	}
	return nil
}

// Receive reaps expired in-flight messages back onto the pending list, then
// pops up to opts.MaxMessages, marking each invisible until the visibility
// timeout elapses.
func (q *RedisQueue) Receive(ctx context.Context, opts ReceiveOptions) ([]*Message, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}

	deadline := time.Now().Add(opts.WaitTime)
	for {
		if err := q.reapExpired(ctx); err != nil {
			return nil, err
		}

		msgs, err := q.popPending(ctx, opts)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// reapExpired moves messages whose visibility timeout has elapsed back to the
// pending list so another consumer can pick them up.
func (q *RedisQueue) reapExpired(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	expired, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("queue reap: %w", err)
	}

	for _, id := range expired {
		// ZRem returning 0 means another instance reaped it first.
		removed, err := q.client.ZRem(ctx, q.inflightKey(), id).Result()
		if err != nil {
			return fmt.Errorf("queue reap zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.pendingKey(), id).Err(); err != nil {
			return fmt.Errorf("queue reap requeue: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) popPending(ctx context.Context, opts ReceiveOptions) ([]*Message, error) {
	var out []*Message
	for len(out) < opts.MaxMessages {
		id, err := q.client.RPop(ctx, q.pendingKey()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("queue pop: %w", err)
		}

		count, err := q.client.HIncrBy(ctx, q.msgKey(id), "receive_count", 1).Result()
		if err != nil {
			return nil, fmt.Errorf("queue receive count: %w", err)
		}

		if q.maxReceiveCount > 0 && int(count) > q.maxReceiveCount {
			if err := q.client.LPush(ctx, q.deadKey(), id).Err(); err != nil {
				return nil, fmt.Errorf("queue dead-letter: %w", err)
			}
			continue
		}

		body, err := q.client.HGet(ctx, q.msgKey(id), "body").Result()
		if err != nil {
			return nil, fmt.Errorf("queue body: %w", err)
		}

		visibleAt := time.Now().Add(opts.VisibilityTimeout).UnixMilli()
		if err := q.client.ZAdd(ctx, q.inflightKey(), redis.Z{
			Score:  float64(visibleAt),
			Member: id,
		}).Err(); err != nil {
			return nil, fmt.Errorf("queue inflight: %w", err)
		}

		out = append(out, &Message{
			ID:            id,
			Body:          []byte(body),
			ReceiptHandle: id,
			ReceiveCount:  int(count),
		})
	}
	return out, nil
}

// Delete acknowledges a message. The receipt handle is the message ID; a
// handle whose message was already reaped returns ErrUnknownReceipt.
func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	removed, err := q.client.ZRem(ctx, q.inflightKey(), receiptHandle).Result()
	if err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	if removed == 0 {
		return ErrUnknownReceipt
	}
	return q.client.Del(ctx, q.msgKey(receiptHandle)).Err()
}
