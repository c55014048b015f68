package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// envelope is the queued payload between the send path and the fan-out
// engine. Exactly one of ReceiverID/GroupID is set. The message has no
// message ID yet; that is assigned at fan-out time.
type envelope struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	Message    string `json:"message"`
}

// SendMessage validates a direct message and hands it to the delivery
// queue. Validation is synchronous so the caller gets an immediate
// rejection; persistence and inbox delivery happen asynchronously in the
// fan-out consumer.
//
// Returns ErrSenderNotFound, ErrReceiverNotFound, or ErrBlocked on
// rejection, and ErrDeliveryUnavailable when the queue refuses the
// accepted message.
func (s *service) SendMessage(ctx context.Context, senderID, receiverID, body string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if body == "" {
		return "", ErrEmptyMessage
	}

	ctx, endSpan := s.otel.startSpan(ctx, "messaging.send",
		attribute.String("sender_id", senderID),
		attribute.String("receiver_id", receiverID),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		s.otel.recordSend(ctx, time.Since(start), false, sendErr)
	}()

	if sendErr = s.validateDirectSend(ctx, senderID, receiverID); sendErr != nil {
		return "", sendErr
	}

	queueID, err := s.enqueue(ctx, envelope{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Message:    body,
	})
	if err != nil {
		sendErr = err
		return "", sendErr
	}
	return queueID, nil
}

// SendGroupMessage validates a group message and hands it to the delivery
// queue.
//
// Returns ErrSenderNotFound, ErrGroupNotFound, or ErrNotMember on
// rejection, and ErrDeliveryUnavailable when the queue refuses the
// accepted message.
func (s *service) SendGroupMessage(ctx context.Context, senderID, groupID, body string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if body == "" {
		return "", ErrEmptyMessage
	}

	ctx, endSpan := s.otel.startSpan(ctx, "messaging.send_group",
		attribute.String("sender_id", senderID),
		attribute.String("group_id", groupID),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		s.otel.recordSend(ctx, time.Since(start), true, sendErr)
	}()

	if sendErr = s.validateGroupSend(ctx, senderID, groupID); sendErr != nil {
		return "", sendErr
	}

	queueID, err := s.enqueue(ctx, envelope{
		SenderID: senderID,
		GroupID:  groupID,
		Message:  body,
	})
	if err != nil {
		sendErr = err
		return "", sendErr
	}
	return queueID, nil
}

// validateDirectSend checks sender/receiver existence and the receiver's
// block decision. No side effects.
func (s *service) validateDirectSend(ctx context.Context, senderID, receiverID string) error {
	ok, err := s.userExists(ctx, senderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSenderNotFound, senderID)
	}

	ok, err = s.userExists(ctx, receiverID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, receiverID)
	}

	blocked, err := s.receiverHasBlocked(ctx, receiverID, senderID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

// validateGroupSend checks sender existence and current group membership.
// No side effects. Membership is re-read at fan-out time; this check only
// rejects obviously invalid sends at request time.
func (s *service) validateGroupSend(ctx context.Context, senderID, groupID string) error {
	ok, err := s.userExists(ctx, senderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSenderNotFound, senderID)
	}

	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.HasMember(senderID) {
		return fmt.Errorf("%w: %s in group %s", ErrNotMember, senderID, groupID)
	}
	return nil
}

// enqueue marshals the envelope and hands it to the queue transport.
// Only validator-accepted envelopes reach here.
func (s *service) enqueue(ctx context.Context, env envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	queueID, err := s.queue.Send(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryUnavailable, err)
	}

	if err := s.events.MessageQueued.Publish(ctx, MessageQueuedEvent{
		QueueID:    queueID,
		SenderID:   env.SenderID,
		ReceiverID: env.ReceiverID,
		GroupID:    env.GroupID,
		QueuedAt:   time.Now().UTC(),
	}); err != nil {
		s.opts.safeEventPublishFailure("MessageQueued", err)
	}

	s.logger.Debug("message enqueued",
		"queue_id", queueID,
		"sender_id", env.SenderID,
		"receiver_id", env.ReceiverID,
		"group_id", env.GroupID,
	)
	return queueID, nil
}
