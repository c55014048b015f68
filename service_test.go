package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	memoryqueue "github.com/RedRL/messaging-system-backend/queue/memory"
	"github.com/RedRL/messaging-system-backend/retry"
	memorystore "github.com/RedRL/messaging-system-backend/store/memory"
)

// testEnv bundles a connected service with its backing store and queue so
// tests can drive the consumer and inspect persisted state directly.
type testEnv struct {
	svc   Service
	store *memorystore.Store
	queue *memoryqueue.Queue
}

// setupTestService creates a connected service on memory backends.
func setupTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st := memorystore.New()
	q := memoryqueue.New()
	all := append([]Option{
		WithStore(st),
		WithQueue(q),
		WithRetryConfig(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}),
	}, opts...)

	svc, err := NewService(all...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })

	return &testEnv{svc: svc, store: st, queue: q}
}

// drain processes queued records until the queue is empty or processing
// stops making progress.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10 && e.queue.Len() > 0; i++ {
		if _, err := e.svc.Consumer().ProcessOnce(context.Background()); err != nil {
			t.Fatalf("process once: %v", err)
		}
	}
}

// mustRegister registers a user or fails the test.
func (e *testEnv) mustRegister(t *testing.T) string {
	t.Helper()
	id, err := e.svc.RegisterUser(context.Background())
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return id
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService(WithQueue(memoryqueue.New()))
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("requires queue", func(t *testing.T) {
		_, err := NewService(WithStore(memorystore.New()))
		if !errors.Is(err, ErrQueueRequired) {
			t.Errorf("expected ErrQueueRequired, got %v", err)
		}
	})

	t.Run("creates service with store and queue", func(t *testing.T) {
		svc, err := NewService(WithStore(memorystore.New()), WithQueue(memoryqueue.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("expected service to start disconnected")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	t.Run("connect and close", func(t *testing.T) {
		svc, err := NewService(WithStore(memorystore.New()), WithQueue(memoryqueue.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ctx := context.Background()

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected IsConnected after Connect")
		}

		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected disconnected after Close")
		}

		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should not error, got %v", err)
		}
	})

	t.Run("operations fail when not connected", func(t *testing.T) {
		svc, err := NewService(WithStore(memorystore.New()), WithQueue(memoryqueue.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ctx := context.Background()

		if _, err := svc.RegisterUser(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("RegisterUser: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.SendMessage(ctx, "a", "b", "hi"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("SendMessage: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.GetNewMessages(ctx, "a"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("GetNewMessages: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Consumer().ProcessOnce(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("ProcessOnce: expected ErrNotConnected, got %v", err)
		}
	})
}

func TestEndToEndDirect(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	u1 := env.mustRegister(t)
	u2 := env.mustRegister(t)

	queueID, err := env.svc.SendMessage(ctx, u1, u2, "hi")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if queueID == "" {
		t.Fatal("expected non-empty queue id")
	}

	env.drain(t)

	msgs, err := env.svc.GetNewMessages(ctx, u2)
	if err != nil {
		t.Fatalf("get new messages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Body != "hi" {
		t.Errorf("expected body 'hi', got %q", msgs[0].Body)
	}
	if msgs[0].SenderID != u1 {
		t.Errorf("expected sender %s, got %s", u1, msgs[0].SenderID)
	}
	// A direct message is just {message, sender_id, timestamp}.
	if msgs[0].ReceivedFrom != "" {
		t.Errorf("direct message must not carry received_from, got %s", msgs[0].ReceivedFrom)
	}
	if msgs[0].GroupID != "" {
		t.Errorf("expected empty group id, got %s", msgs[0].GroupID)
	}

	// Second retrieval returns nothing: the read flag flipped.
	msgs, err = env.svc.GetNewMessages(ctx, u2)
	if err != nil {
		t.Fatalf("second retrieval failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty second retrieval, got %d messages", len(msgs))
	}
}

func TestEndToEndGroup(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	u1 := env.mustRegister(t)
	u2 := env.mustRegister(t)

	groupID, err := env.svc.CreateGroup(ctx, "pair", u1, []string{u2})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	if _, err := env.svc.SendGroupMessage(ctx, u1, groupID, "hello"); err != nil {
		t.Fatalf("group send failed: %v", err)
	}
	env.drain(t)

	msgs, err := env.svc.GetNewMessages(ctx, u2)
	if err != nil {
		t.Fatalf("get new messages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Body != "hello" {
		t.Errorf("expected body 'hello', got %q", msgs[0].Body)
	}
	if msgs[0].GroupID != groupID {
		t.Errorf("expected group id %s, got %s", groupID, msgs[0].GroupID)
	}
	// A group message names the sending member in received_from.
	if msgs[0].ReceivedFrom != u1 {
		t.Errorf("expected received_from %s, got %s", u1, msgs[0].ReceivedFrom)
	}

	// The sender is a member too and receives their own group message.
	msgs, err = env.svc.GetNewMessages(ctx, u1)
	if err != nil {
		t.Fatalf("sender retrieval failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected sender to see own group message, got %d", len(msgs))
	}
}
