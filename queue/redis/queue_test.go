package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/RedRL/messaging-system-backend/queue"
)

func setupQueue(t *testing.T) *Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := New(client,
		WithStream("test:deliveries"),
		WithGroup("test-group"),
		WithConsumer("test-consumer"),
		WithBlock(10*time.Millisecond),
	)
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	q := setupQueue(t)

	t.Run("double connect", func(t *testing.T) {
		if err := q.Connect(ctx); !errors.Is(err, queue.ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("reconnect tolerates existing group", func(t *testing.T) {
		if err := q.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := q.Connect(ctx); err != nil {
			t.Fatalf("reconnect with existing group: %v", err)
		}
	})
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := New(client)
	if _, err := q.Send(ctx, []byte("x")); !errors.Is(err, queue.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := q.Receive(ctx, 1); !errors.Is(err, queue.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := q.Ack(ctx, "0-0"); !errors.Is(err, queue.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendReceiveAck(t *testing.T) {
	ctx := context.Background()
	q := setupQueue(t)

	id, err := q.Send(ctx, []byte(`{"sender_id":"u1"}`))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id == "" {
		t.Fatal("expected a stream entry id")
	}

	records, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID != id {
		t.Errorf("expected id %s, got %s", id, records[0].ID)
	}
	if string(records[0].Body) != `{"sender_id":"u1"}` {
		t.Errorf("unexpected body: %s", records[0].Body)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// Acked entries are gone for good.
	records, err = q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty stream after ack, got %d records", len(records))
	}
}

func TestReceiveBatch(t *testing.T) {
	ctx := context.Background()
	q := setupQueue(t)

	for i := 0; i < 5; i++ {
		if _, err := q.Send(ctx, []byte("x")); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	records, err := q.Receive(ctx, 3)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}

	rest, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("expected remaining 2 records, got %d", len(rest))
	}

	if records, _ := q.Receive(ctx, 0); records != nil {
		t.Errorf("non-positive max must return nothing, got %d", len(records))
	}
}

func TestAckUnknownRecord(t *testing.T) {
	ctx := context.Background()
	q := setupQueue(t)

	if err := q.Ack(ctx, "1-1"); !errors.Is(err, queue.ErrUnknownRecord) {
		t.Errorf("expected ErrUnknownRecord, got %v", err)
	}
}

func TestPendingEntrySurvivesConsumer(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// A record read but never acked stays pending; a second consumer with a
	// zero idle threshold reclaims it.
	first := New(client,
		WithGroup("shared"),
		WithConsumer("first"),
		WithBlock(10*time.Millisecond),
	)
	if err := first.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	id, err := first.Send(ctx, []byte("orphaned"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if records, _ := first.Receive(ctx, 1); len(records) != 1 {
		t.Fatal("expected first consumer to read the record")
	}

	second := New(client,
		WithGroup("shared"),
		WithConsumer("second"),
		WithBlock(10*time.Millisecond),
		WithMinIdle(time.Millisecond),
	)
	if err := second.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// miniredis measures pending-entry idle time against the wall clock;
	// FastForward only shifts TTLs, so wait out the idle threshold for real.
	time.Sleep(5 * time.Millisecond)

	records, err := second.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("expected the pending record reclaimed, got %v", records)
	}
	if records[0].Deliveries < 2 {
		t.Errorf("reclaimed record must count as a redelivery, got %d", records[0].Deliveries)
	}

	if err := second.Ack(ctx, id); err != nil {
		t.Fatalf("ack after reclaim: %v", err)
	}
}
