package messaging

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RedRL/messaging-system-backend/retry"
)

// Validation errors, surfaced synchronously on the send and registration
// paths.
var (
	// ErrSenderNotFound is returned when the sending user is not registered.
	ErrSenderNotFound = errors.New("messaging: sender not found")

	// ErrReceiverNotFound is returned when the receiving user is not registered.
	ErrReceiverNotFound = errors.New("messaging: receiver not found")

	// ErrUserNotFound is returned when a referenced user is not registered.
	ErrUserNotFound = errors.New("messaging: user not found")

	// ErrGroupNotFound is returned when the group doesn't exist.
	ErrGroupNotFound = errors.New("messaging: group not found")

	// ErrBlocked is returned when the receiver has blocked the sender.
	ErrBlocked = errors.New("messaging: receiver has blocked sender")

	// ErrNotMember is returned when the user is not a member of the group.
	ErrNotMember = errors.New("messaging: user is not a group member")

	// ErrDuplicateMember is returned when adding a user who is already a
	// group member.
	ErrDuplicateMember = errors.New("messaging: user is already a group member")

	// ErrEmptyMessage is returned when the message body is empty.
	ErrEmptyMessage = errors.New("messaging: empty message body")
)

// Infrastructure errors.
var (
	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("messaging: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("messaging: already connected")

	// ErrStoreRequired is returned by NewService when no store is configured.
	ErrStoreRequired = errors.New("messaging: store is required")

	// ErrQueueRequired is returned by NewService when no queue is configured.
	ErrQueueRequired = errors.New("messaging: queue is required")

	// ErrDeliveryUnavailable is returned when an accepted message could not
	// be handed to the delivery queue.
	ErrDeliveryUnavailable = errors.New("messaging: delivery queue unavailable")

	// ErrStoreUnavailable is returned when the retry budget for a store
	// operation is exhausted.
	ErrStoreUnavailable = errors.New("messaging: store unavailable")
)

// PartialFanoutError is returned when a group message was persisted and
// delivered to some members but one or more inbox appends failed. The
// message record exists; failed members will not find it through their
// inbox index.
type PartialFanoutError struct {
	// MessageID is the persisted message.
	MessageID string

	// GroupID is the group the message was sent to.
	GroupID string

	// DeliveredTo lists members whose inbox append succeeded.
	DeliveredTo []string

	// FailedMembers maps each failed member to the append error.
	FailedMembers map[string]error
}

func (e *PartialFanoutError) Error() string {
	failed := make([]string, 0, len(e.FailedMembers))
	for id := range e.FailedMembers {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	return fmt.Sprintf("messaging: partial fan-out of message %s to group %s: delivered to %d, failed for %v",
		e.MessageID, e.GroupID, len(e.DeliveredTo), failed)
}

// IsRetryableError reports whether the error is transient and the operation
// may be safely retried by the caller.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrDeliveryUnavailable) ||
		errors.Is(err, retry.ErrExhausted)
}
