package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// Concurrent fan-out of different messages into the same inbox index must
// not lose entries: each append is an atomic list-extend at the store.
func TestConcurrentFanoutSameInbox(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	receiver := env.mustRegister(t)

	const senders = 20
	senderIDs := make([]string, senders)
	for i := range senderIDs {
		senderIDs[i] = env.mustRegister(t)
	}

	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i, sender := range senderIDs {
		wg.Add(1)
		go func(i int, sender string) {
			defer wg.Done()
			if _, err := env.svc.SendMessage(ctx, sender, receiver, fmt.Sprintf("msg-%d", i)); err != nil {
				errs <- err
			}
		}(i, sender)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("send failed: %v", err)
	}

	env.drain(t)

	index := env.inboxIndex(t, receiver)
	if len(index) != senders {
		t.Fatalf("expected %d inbox entries, got %d", senders, len(index))
	}

	msgs, err := env.svc.GetNewMessages(ctx, receiver)
	if err != nil {
		t.Fatalf("retrieval failed: %v", err)
	}
	if len(msgs) != senders {
		t.Errorf("expected %d unread messages, got %d", senders, len(msgs))
	}
}

// Concurrent retrievals by different members of the same group flip
// disjoint read-state entries without conflicting.
func TestConcurrentGroupReads(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	const members = 8
	creator := env.mustRegister(t)
	memberIDs := make([]string, 0, members)
	for i := 1; i < members; i++ {
		memberIDs = append(memberIDs, env.mustRegister(t))
	}

	groupID, err := env.svc.CreateGroup(ctx, "big", creator, memberIDs)
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	if _, err := env.svc.SendGroupMessage(ctx, creator, groupID, "fan"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	env.drain(t)

	all := append([]string{creator}, memberIDs...)
	var wg sync.WaitGroup
	counts := make([]int, len(all))
	for i, member := range all {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			msgs, err := env.svc.GetNewMessages(ctx, member)
			if err == nil {
				counts[i] = len(msgs)
			}
		}(i, member)
	}
	wg.Wait()

	for i, member := range all {
		if counts[i] != 1 {
			t.Errorf("member %s: expected 1 message, got %d", member, counts[i])
		}
	}

	// Every member's entry flipped exactly once.
	messageID := env.inboxIndex(t, creator)[0]
	state := env.storedMessage(t, messageID).ReadState
	for _, member := range all {
		if read, ok := state.MemberRead(member); !ok || !read {
			t.Errorf("expected %s's entry read after retrieval", member)
		}
	}
}
