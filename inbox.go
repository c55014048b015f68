package messaging

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/RedRL/messaging-system-backend/retry"
	"github.com/RedRL/messaging-system-backend/store"
)

// InboxMessage is one retrieved unread message, formatted for the caller.
// Group messages carry GroupID plus ReceivedFrom (the sending member);
// direct messages carry neither, the sender is already SenderID.
type InboxMessage struct {
	Body         string    `json:"message"`
	SenderID     string    `json:"sender_id"`
	Timestamp    time.Time `json:"timestamp"`
	ReceivedFrom string    `json:"received_from,omitempty"`
	GroupID      string    `json:"group_id,omitempty"`
}

// GetNewMessages returns the user's unread messages sorted ascending by
// timestamp and flips each returned message's read state for this user.
//
// The flip happens after deciding to include a message ("deliver then
// mark"): if the flip fails the message is still returned, and may appear
// again on the next call. Inbox index entries with no backing message
// record are silently skipped. Group messages whose read-state map has no
// entry for this user (joined after the send) are not unread and are
// skipped.
func (s *service) GetNewMessages(ctx context.Context, userID string) ([]InboxMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "messaging.inbox",
		attribute.String("user_id", userID),
	)
	start := time.Now()
	var readErr error
	var resultCount int
	defer func() {
		endSpan(readErr)
		s.otel.recordInbox(ctx, time.Since(start), resultCount, readErr)
	}()

	user, err := s.getUser(ctx, userID)
	if err != nil {
		readErr = err
		return nil, readErr
	}
	if len(user.ReceivedMessages) == 0 {
		return []InboxMessage{}, nil
	}

	messages, err := s.batchGetMessages(ctx, user.ReceivedMessages)
	if err != nil {
		readErr = err
		return nil, readErr
	}

	result := make([]InboxMessage, 0, len(messages))
	seen := make(map[string]bool, len(messages))
	for _, msg := range messages {
		// An at-least-once append can duplicate an index entry.
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true

		if !msg.ReadState.UnreadFor(userID) {
			continue
		}

		result = append(result, formatMessage(msg))
		s.markRead(ctx, msg, userID)
	}

	// Stable sort keeps fetch order for equal timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	resultCount = len(result)
	return result, nil
}

// batchGetMessages bulk-fetches the inbox index with retry. Missing IDs
// are absent from the result, not errors.
func (s *service) batchGetMessages(ctx context.Context, ids []string) ([]*store.Message, error) {
	messages, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) ([]*store.Message, error) {
		return s.store.BatchGetMessages(ctx, ids)
	})
	if err := storeErr(err); err != nil {
		return nil, err
	}
	return messages, nil
}

// markRead flips the read state for one included message, best-effort.
// A failed flip is logged; the message was already included in the result
// and will simply surface again on the next retrieval.
func (s *service) markRead(ctx context.Context, msg *store.Message, userID string) {
	var err error
	if msg.IsGroup() {
		err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
			return s.store.MarkMemberRead(ctx, msg.ID, userID)
		})
	} else {
		err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
			return s.store.MarkRead(ctx, msg.ID)
		})
	}
	if err := storeErr(err); err != nil {
		s.logger.Error("failed to mark message read",
			"message_id", msg.ID, "user_id", userID, "error", err)
		return
	}

	if err := s.events.MessageRead.Publish(ctx, MessageReadEvent{
		MessageID: msg.ID,
		UserID:    userID,
		ReadAt:    time.Now().UTC(),
	}); err != nil {
		s.opts.safeEventPublishFailure("MessageRead", err)
	}
}

// formatMessage converts a stored message to the retrieval shape.
func formatMessage(msg *store.Message) InboxMessage {
	out := InboxMessage{
		Body:      msg.Body,
		SenderID:  msg.SenderID,
		Timestamp: msg.Timestamp,
	}
	if msg.IsGroup() {
		out.GroupID = msg.GroupID
		out.ReceivedFrom = msg.SenderID
	}
	return out
}
