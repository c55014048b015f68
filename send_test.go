package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	sender := env.mustRegister(t)
	receiver := env.mustRegister(t)

	t.Run("unknown sender", func(t *testing.T) {
		_, err := env.svc.SendMessage(ctx, "nobody", receiver, "hi")
		if !errors.Is(err, ErrSenderNotFound) {
			t.Errorf("expected ErrSenderNotFound, got %v", err)
		}
	})

	t.Run("unknown receiver", func(t *testing.T) {
		_, err := env.svc.SendMessage(ctx, sender, "nobody", "hi")
		if !errors.Is(err, ErrReceiverNotFound) {
			t.Errorf("expected ErrReceiverNotFound, got %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := env.svc.SendMessage(ctx, sender, receiver, "")
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("expected ErrEmptyMessage, got %v", err)
		}
	})

	t.Run("blocked sender is rejected and nothing is enqueued", func(t *testing.T) {
		blocker := env.mustRegister(t)
		if err := env.svc.BlockUser(ctx, blocker, sender); err != nil {
			t.Fatalf("block failed: %v", err)
		}

		before := env.queue.Len()
		_, err := env.svc.SendMessage(ctx, sender, blocker, "hi")
		if !errors.Is(err, ErrBlocked) {
			t.Errorf("expected ErrBlocked, got %v", err)
		}
		if env.queue.Len() != before {
			t.Error("rejected message must not be enqueued")
		}
	})

	t.Run("blocking is directed", func(t *testing.T) {
		blocker := env.mustRegister(t)
		if err := env.svc.BlockUser(ctx, blocker, sender); err != nil {
			t.Fatalf("block failed: %v", err)
		}

		// The blocker can still message the user they blocked.
		if _, err := env.svc.SendMessage(ctx, blocker, sender, "hi"); err != nil {
			t.Errorf("reverse direction should be allowed, got %v", err)
		}
	})

	t.Run("accepted send enqueues the envelope", func(t *testing.T) {
		if _, err := env.svc.SendMessage(ctx, sender, receiver, "payload"); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		recs, err := env.queue.Receive(ctx, 10)
		if err != nil {
			t.Fatalf("receive failed: %v", err)
		}
		if len(recs) == 0 {
			t.Fatal("expected at least one queued record")
		}

		var env2 envelope
		last := recs[len(recs)-1]
		if err := json.Unmarshal(last.Body, &env2); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env2.SenderID != sender || env2.ReceiverID != receiver || env2.Message != "payload" {
			t.Errorf("unexpected envelope: %+v", env2)
		}
		if env2.GroupID != "" {
			t.Errorf("direct envelope must not carry a group id, got %s", env2.GroupID)
		}
	})
}

func TestSendGroupMessageValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	creator := env.mustRegister(t)
	member := env.mustRegister(t)
	outsider := env.mustRegister(t)

	groupID, err := env.svc.CreateGroup(ctx, "team", creator, []string{member})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	t.Run("unknown sender", func(t *testing.T) {
		_, err := env.svc.SendGroupMessage(ctx, "nobody", groupID, "hi")
		if !errors.Is(err, ErrSenderNotFound) {
			t.Errorf("expected ErrSenderNotFound, got %v", err)
		}
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := env.svc.SendGroupMessage(ctx, creator, "no-such-group", "hi")
		if !errors.Is(err, ErrGroupNotFound) {
			t.Errorf("expected ErrGroupNotFound, got %v", err)
		}
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		_, err := env.svc.SendGroupMessage(ctx, outsider, groupID, "hi")
		if !errors.Is(err, ErrNotMember) {
			t.Errorf("expected ErrNotMember, got %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := env.svc.SendGroupMessage(ctx, creator, groupID, "")
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("expected ErrEmptyMessage, got %v", err)
		}
	})

	t.Run("member send is accepted", func(t *testing.T) {
		queueID, err := env.svc.SendGroupMessage(ctx, member, groupID, "hi")
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if queueID == "" {
			t.Error("expected non-empty queue id")
		}
	})
}
