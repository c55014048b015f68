package messaging

import (
	"context"
	"testing"

	"github.com/RedRL/messaging-system-backend/store"
)

// inboxIndex fetches a user's raw inbox index from the backing store.
func (e *testEnv) inboxIndex(t *testing.T, userID string) []string {
	t.Helper()
	user, err := e.store.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("get user %s: %v", userID, err)
	}
	return user.ReceivedMessages
}

// storedMessage fetches one message record from the backing store.
func (e *testEnv) storedMessage(t *testing.T, messageID string) *store.Message {
	t.Helper()
	msgs, err := e.store.BatchGetMessages(context.Background(), []string{messageID})
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected message %s to exist", messageID)
	}
	return msgs[0]
}

func TestFanoutDirect(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	sender := env.mustRegister(t)
	receiver := env.mustRegister(t)

	if _, err := env.svc.SendMessage(ctx, sender, receiver, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	env.drain(t)

	index := env.inboxIndex(t, receiver)
	if len(index) != 1 {
		t.Fatalf("expected 1 inbox entry, got %d", len(index))
	}

	msg := env.storedMessage(t, index[0])
	if msg.SenderID != sender {
		t.Errorf("expected sender %s, got %s", sender, msg.SenderID)
	}
	if msg.ReceiverID != receiver {
		t.Errorf("expected receiver %s, got %s", receiver, msg.ReceiverID)
	}
	if msg.GroupID != "" {
		t.Errorf("direct message must not carry a group id")
	}
	if msg.ReadState.IsGroup() {
		t.Error("direct message must carry the boolean read shape")
	}
	if !msg.ReadState.UnreadFor(receiver) {
		t.Error("freshly delivered message must be unread")
	}

	// Sender gets no copy of a direct message.
	if got := env.inboxIndex(t, sender); len(got) != 0 {
		t.Errorf("expected empty sender inbox, got %d entries", len(got))
	}
}

func TestFanoutDirectBlockRecheck(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	sender := env.mustRegister(t)
	receiver := env.mustRegister(t)

	// Accepted at validation time, blocked before the consumer runs. The
	// engine re-reads the block list and drops the message silently.
	if _, err := env.svc.SendMessage(ctx, sender, receiver, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := env.svc.BlockUser(ctx, receiver, sender); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	env.drain(t)

	if env.queue.Len() != 0 {
		t.Error("dropped record must still be acknowledged")
	}
	if got := env.inboxIndex(t, receiver); len(got) != 0 {
		t.Errorf("expected empty inbox after drop, got %d entries", len(got))
	}
}

func TestFanoutGroup(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	a := env.mustRegister(t)
	b := env.mustRegister(t)
	c := env.mustRegister(t)

	groupID, err := env.svc.CreateGroup(ctx, "trio", a, []string{b, c})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	if _, err := env.svc.SendGroupMessage(ctx, a, groupID, "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	env.drain(t)

	// One append per member, sender included.
	var messageID string
	for _, member := range []string{a, b, c} {
		index := env.inboxIndex(t, member)
		if len(index) != 1 {
			t.Fatalf("expected 1 inbox entry for %s, got %d", member, len(index))
		}
		if messageID == "" {
			messageID = index[0]
		} else if index[0] != messageID {
			t.Errorf("all members must reference the same message record")
		}
	}

	// One message record with a per-member unread map.
	msg := env.storedMessage(t, messageID)
	if msg.GroupID != groupID {
		t.Errorf("expected group id %s, got %s", groupID, msg.GroupID)
	}
	if !msg.ReadState.IsGroup() {
		t.Fatal("group message must carry the per-member read shape")
	}
	for _, member := range []string{a, b, c} {
		read, ok := msg.ReadState.MemberRead(member)
		if !ok {
			t.Errorf("expected read-state entry for %s", member)
		}
		if read {
			t.Errorf("expected %s to start unread", member)
		}
	}
}

func TestFanoutGroupMembershipSnapshot(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	a := env.mustRegister(t)
	b := env.mustRegister(t)
	c := env.mustRegister(t)

	groupID, err := env.svc.CreateGroup(ctx, "trio", a, []string{b, c})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	t.Run("member removed before fan-out is excluded", func(t *testing.T) {
		if _, err := env.svc.SendGroupMessage(ctx, a, groupID, "first"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		// Membership changed between validation and fan-out; the engine uses
		// the fresh snapshot.
		if err := env.svc.RemoveUserFromGroup(ctx, groupID, c); err != nil {
			t.Fatalf("remove member failed: %v", err)
		}
		env.drain(t)

		if got := env.inboxIndex(t, c); len(got) != 0 {
			t.Errorf("removed member must not receive the message, got %d entries", len(got))
		}
		index := env.inboxIndex(t, b)
		if len(index) != 1 {
			t.Fatalf("remaining member must receive the message, got %d entries", len(index))
		}

		msg := env.storedMessage(t, index[0])
		if _, ok := msg.ReadState.MemberRead(c); ok {
			t.Error("removed member must not appear in the read-state snapshot")
		}
	})

	t.Run("departed sender drops the message", func(t *testing.T) {
		if _, err := env.svc.SendGroupMessage(ctx, b, groupID, "second"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if err := env.svc.RemoveUserFromGroup(ctx, groupID, b); err != nil {
			t.Fatalf("remove member failed: %v", err)
		}
		env.drain(t)

		if env.queue.Len() != 0 {
			t.Error("dropped record must still be acknowledged")
		}
		// Only the first message is in a's inbox.
		if got := env.inboxIndex(t, a); len(got) != 1 {
			t.Errorf("expected 1 inbox entry for remaining member, got %d", len(got))
		}
	})
}

func TestFanoutMalformedRecord(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	if _, err := env.queue.Send(ctx, []byte("not json")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := env.queue.Send(ctx, []byte(`{"sender_id":"x","message":"no recipient"}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	acked, err := env.svc.Consumer().ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if acked != 2 {
		t.Errorf("poison records must be acked, got %d acks", acked)
	}
	if env.queue.Len() != 0 {
		t.Error("poison records must not be redelivered")
	}
}
