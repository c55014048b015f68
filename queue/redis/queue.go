// Package redis provides a Redis Streams implementation of queue.Queue.
//
// Records are entries on a single stream consumed through a consumer group,
// which gives at-least-once semantics: an entry stays in the group's pending
// list until acknowledged, and entries abandoned by a dead consumer are
// reclaimed with XAUTOCLAIM after a configurable idle period.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/RedRL/messaging-system-backend/queue"
)

// bodyField is the stream entry field holding the payload.
const bodyField = "body"

// Queue implements queue.Queue on a Redis stream.
type Queue struct {
	client    redis.UniversalClient
	opts      *options
	connected int32
}

// New creates a Redis Streams queue with the provided client.
// Call Connect() to create the stream and consumer group.
func New(client redis.UniversalClient, opts ...Option) *Queue {
	return &Queue{
		client: client,
		opts:   newOptions(opts...),
	}
}

// Connect creates the consumer group (and the stream, if missing).
func (q *Queue) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&q.connected, 0, 1) {
		return queue.ErrAlreadyConnected
	}
	if q.client == nil {
		atomic.StoreInt32(&q.connected, 0)
		return fmt.Errorf("redis queue: client is required")
	}

	err := q.client.XGroupCreateMkStream(ctx, q.opts.stream, q.opts.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		atomic.StoreInt32(&q.connected, 0)
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Close marks the queue as disconnected.
// The caller is responsible for closing the Redis client.
func (q *Queue) Close(_ context.Context) error {
	atomic.StoreInt32(&q.connected, 0)
	return nil
}

// Send appends the payload to the stream and returns the entry ID.
func (q *Queue) Send(ctx context.Context, body []byte) (string, error) {
	if atomic.LoadInt32(&q.connected) == 0 {
		return "", queue.ErrNotConnected
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.stream,
		Values: map[string]any{bodyField: body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Receive reclaims entries abandoned past the idle threshold, then reads
// fresh entries for this consumer, blocking up to the configured interval.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Record, error) {
	if atomic.LoadInt32(&q.connected) == 0 {
		return nil, queue.ErrNotConnected
	}
	if max <= 0 {
		return nil, nil
	}

	records := q.reclaim(ctx, max)
	if len(records) >= max {
		return records, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.group,
		Consumer: q.opts.consumer,
		Streams:  []string{q.opts.stream, ">"},
		Count:    int64(max - len(records)),
		Block:    q.opts.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return records, nil // block timeout, nothing pending
		}
		return records, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			records = append(records, toRecord(m, 1))
		}
	}
	return records, nil
}

// reclaim takes over pending entries whose consumer went quiet.
// Failures are swallowed: reclaiming is opportunistic and the entries stay
// pending for the next pass.
func (q *Queue) reclaim(ctx context.Context, max int) []queue.Record {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.stream,
		Group:    q.opts.group,
		Consumer: q.opts.consumer,
		MinIdle:  q.opts.minIdle,
		Start:    "0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil
	}

	records := make([]queue.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, toRecord(m, 2))
	}
	return records
}

// Ack acknowledges a record and trims it from the stream.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if atomic.LoadInt32(&q.connected) == 0 {
		return queue.ErrNotConnected
	}

	n, err := q.client.XAck(ctx, q.opts.stream, q.opts.group, id).Result()
	if err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if n == 0 {
		return queue.ErrUnknownRecord
	}

	// Acked entries are dead weight on the stream; deletion failures are
	// harmless (the entry is already out of the pending list).
	q.client.XDel(ctx, q.opts.stream, id)
	return nil
}

func toRecord(m redis.XMessage, deliveries int64) queue.Record {
	var body []byte
	if v, ok := m.Values[bodyField]; ok {
		switch b := v.(type) {
		case string:
			body = []byte(b)
		case []byte:
			body = b
		}
	}
	return queue.Record{ID: m.ID, Body: body, Deliveries: deliveries}
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Compile-time check that Queue implements queue.Queue.
var _ queue.Queue = (*Queue)(nil)
