package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for messaging events.
const (
	EventNameMessageQueued    = "messaging.message.queued"
	EventNameMessageDelivered = "messaging.message.delivered"
	EventNameMessageRead      = "messaging.message.read"
)

// MessageQueuedEvent is published when a validated message is handed to the
// delivery queue. At this point the message has no message ID yet; QueueID
// is the transport-assigned record identifier.
type MessageQueuedEvent struct {
	QueueID    string    `json:"queue_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}

// MessageDeliveredEvent is published when the fan-out engine has persisted
// a message and appended it to recipient inboxes.
type MessageDeliveredEvent struct {
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	GroupID        string    `json:"group_id,omitempty"`
	RecipientCount int       `json:"recipient_count"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// MessageReadEvent is published when a recipient's read flag flips during
// inbox retrieval. Use this for read receipts.
type MessageReadEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus, enabling
// independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageDelivered.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageQueued is published when a message is accepted and enqueued.
	MessageQueued event.Event[MessageQueuedEvent]

	// MessageDelivered is published when fan-out completes.
	MessageDelivered event.Event[MessageDeliveredEvent]

	// MessageRead is published when a recipient's read flag flips.
	MessageRead event.Event[MessageReadEvent]
}

// newServiceEvents creates per-service event instances with a unique name
// prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageQueued:    event.New[MessageQueuedEvent](namePrefix + "." + EventNameMessageQueued),
		MessageDelivered: event.New[MessageDeliveredEvent](namePrefix + "." + EventNameMessageDelivered),
		MessageRead:      event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageQueued); err != nil {
		return fmt.Errorf("register MessageQueued: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDelivered); err != nil {
		return fmt.Errorf("register MessageDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	return nil
}
