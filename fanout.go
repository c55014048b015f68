package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/RedRL/messaging-system-backend/queue"
	"github.com/RedRL/messaging-system-backend/retry"
	"github.com/RedRL/messaging-system-backend/store"
)

// processRecord handles one dequeued envelope: create the durable message
// record and append its ID to every recipient's inbox index.
//
// A nil return (or *PartialFanoutError) means the record may be
// acknowledged. Any other error leaves the record unacked for redelivery.
// Conditions that redelivery cannot fix - malformed payloads, vanished
// receivers, a sender who left the group - are dropped with a log line
// instead of an error, since the consumer has no caller to report to.
func (s *service) processRecord(ctx context.Context, rec queue.Record) error {
	ctx, endSpan := s.otel.startSpan(ctx, "messaging.fanout",
		attribute.String("queue_id", rec.ID),
	)
	start := time.Now()
	var procErr error
	var recipients int
	defer func() {
		endSpan(procErr)
		s.otel.recordFanout(ctx, time.Since(start), recipients, procErr)
	}()

	var env envelope
	if err := json.Unmarshal(rec.Body, &env); err != nil {
		s.logger.Error("dropping malformed fan-out record",
			"queue_id", rec.ID, "error", err)
		return nil
	}

	switch {
	case env.GroupID != "":
		recipients, procErr = s.processGroup(ctx, env)
	case env.ReceiverID != "":
		recipients, procErr = s.processDirect(ctx, env)
	default:
		s.logger.Error("dropping fan-out record with no recipient",
			"queue_id", rec.ID, "sender_id", env.SenderID)
	}
	return procErr
}

// processDirect delivers a direct message: re-check the receiver's block
// list (the queue decouples validation from delivery, so the decision may
// have changed), persist the message, append to the receiver's inbox.
func (s *service) processDirect(ctx context.Context, env envelope) (int, error) {
	blocked, err := s.blockedBySender(ctx, env.ReceiverID, env.SenderID)
	if err != nil {
		return 0, err
	}
	if blocked {
		s.logger.Debug("dropping message to blocking receiver",
			"sender_id", env.SenderID, "receiver_id", env.ReceiverID)
		return 0, nil
	}

	msg := &store.Message{
		ID:         uuid.NewString(),
		SenderID:   env.SenderID,
		Body:       env.Message,
		Timestamp:  time.Now().UTC(),
		ReceiverID: env.ReceiverID,
		ReadState:  store.DirectUnread(),
	}
	if err := s.putMessage(ctx, msg); err != nil {
		return 0, err
	}

	// If the append fails after the message persisted, the record is durable
	// but unreachable through the inbox index. Redelivery retries the whole
	// record and writes a fresh message ID; the orphan stays behind.
	if err := s.appendInbox(ctx, env.ReceiverID, msg.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("dropping message for deregistered receiver",
				"receiver_id", env.ReceiverID, "message_id", msg.ID)
			return 0, nil
		}
		return 0, fmt.Errorf("append inbox for %s: %w", env.ReceiverID, err)
	}

	s.publishDelivered(ctx, msg, 1)
	return 1, nil
}

// processGroup delivers a group message using a fresh membership snapshot.
// The message is persisted once with a per-member read-state map, then
// appended to every member's inbox concurrently; each append is isolated,
// so one member's failure does not block or roll back the others.
func (s *service) processGroup(ctx context.Context, env envelope) (int, error) {
	group, err := s.getGroup(ctx, env.GroupID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			s.logger.Warn("dropping message to deleted group",
				"group_id", env.GroupID, "sender_id", env.SenderID)
			return 0, nil
		}
		return 0, err
	}
	if !group.HasMember(env.SenderID) {
		s.logger.Debug("dropping message from departed member",
			"group_id", env.GroupID, "sender_id", env.SenderID)
		return 0, nil
	}

	members := group.Members
	msg := &store.Message{
		ID:        uuid.NewString(),
		SenderID:  env.SenderID,
		Body:      env.Message,
		Timestamp: time.Now().UTC(),
		GroupID:   env.GroupID,
		ReadState: store.GroupUnread(members),
	}
	if err := s.putMessage(ctx, msg); err != nil {
		return 0, err
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		delivered []string
		failed    = make(map[string]error)
	)
	for _, member := range members {
		if err := s.fanoutSem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed[member] = err
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(member string) {
			defer wg.Done()
			defer s.fanoutSem.Release(1)

			err := s.appendInbox(ctx, member, msg.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				delivered = append(delivered, member)
			case errors.Is(err, store.ErrNotFound):
				// Member deregistered between snapshot and append.
				s.logger.Warn("skipping deregistered group member",
					"member_id", member, "message_id", msg.ID)
			default:
				failed[member] = err
			}
		}(member)
	}
	wg.Wait()

	if len(failed) > 0 && len(delivered) == 0 {
		return 0, fmt.Errorf("fan-out of message %s to group %s: all %d appends failed",
			msg.ID, env.GroupID, len(failed))
	}

	s.publishDelivered(ctx, msg, len(delivered))

	if len(failed) > 0 {
		return len(delivered), &PartialFanoutError{
			MessageID:     msg.ID,
			GroupID:       env.GroupID,
			DeliveredTo:   delivered,
			FailedMembers: failed,
		}
	}
	return len(delivered), nil
}

// putMessage persists the message record with retry.
func (s *service) putMessage(ctx context.Context, msg *store.Message) error {
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.PutMessage(ctx, msg)
	})
	if err := storeErr(err); err != nil {
		return fmt.Errorf("put message %s: %w", msg.ID, err)
	}
	return nil
}

// appendInbox appends a message ID to a user's inbox index with retry.
// The append is an atomic list-extend at the store, so retry after a
// partial success can duplicate an entry; the reader tolerates that.
func (s *service) appendInbox(ctx context.Context, userID, messageID string) error {
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.AppendInbox(ctx, userID, messageID)
	})
	return storeErr(err)
}

func (s *service) publishDelivered(ctx context.Context, msg *store.Message, recipients int) {
	if err := s.events.MessageDelivered.Publish(ctx, MessageDeliveredEvent{
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		GroupID:        msg.GroupID,
		RecipientCount: recipients,
		DeliveredAt:    time.Now().UTC(),
	}); err != nil {
		s.opts.safeEventPublishFailure("MessageDelivered", err)
	}
}
