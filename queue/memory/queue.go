// Package memory provides an in-process Queue implementation for testing.
// Records are held in memory and redelivered until acknowledged. Not
// suitable for production use.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/RedRL/messaging-system-backend/queue"
)

// Queue implements queue.Queue with in-memory storage.
// Thread-safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	records   []*record
	nextID    int64
	connected int32
}

type record struct {
	id         string
	body       []byte
	inflight   bool
	deliveries int64
}

// New creates a new in-memory queue.
func New() *Queue {
	return &Queue{}
}

// Connect marks the queue as connected.
func (q *Queue) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&q.connected, 0, 1) {
		return queue.ErrAlreadyConnected
	}
	return nil
}

// Close marks the queue as disconnected.
func (q *Queue) Close(_ context.Context) error {
	atomic.StoreInt32(&q.connected, 0)
	return nil
}

// Send enqueues a payload.
func (q *Queue) Send(_ context.Context, body []byte) (string, error) {
	if atomic.LoadInt32(&q.connected) == 0 {
		return "", queue.ErrNotConnected
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	id := strconv.FormatInt(q.nextID, 10)
	b := make([]byte, len(body))
	copy(b, body)
	q.records = append(q.records, &record{id: id, body: b})
	return id, nil
}

// Receive returns up to max unacknowledged records. Records already handed
// out by a previous Receive are redelivered: the in-flight marker is reset
// by Requeue, which tests call to simulate transport redelivery, so a
// single consumer loop sees each record once per delivery.
func (q *Queue) Receive(_ context.Context, max int) ([]queue.Record, error) {
	if atomic.LoadInt32(&q.connected) == 0 {
		return nil, queue.ErrNotConnected
	}
	if max <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []queue.Record
	for _, r := range q.records {
		if r.inflight {
			continue
		}
		r.inflight = true
		r.deliveries++
		out = append(out, queue.Record{ID: r.id, Body: r.body, Deliveries: r.deliveries})
		if len(out) == max {
			break
		}
	}
	return out, nil
}

// Ack removes a record permanently.
func (q *Queue) Ack(_ context.Context, id string) error {
	if atomic.LoadInt32(&q.connected) == 0 {
		return queue.ErrNotConnected
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.records {
		if r.id == id {
			q.records = append(q.records[:i], q.records[i+1:]...)
			return nil
		}
	}
	return queue.ErrUnknownRecord
}

// Requeue makes all unacknowledged in-flight records deliverable again,
// simulating a visibility timeout expiring.
func (q *Queue) Requeue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.records {
		r.inflight = false
	}
}

// Len returns the number of unacknowledged records, in-flight included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Compile-time check that Queue implements queue.Queue.
var _ queue.Queue = (*Queue)(nil)
