// Package store provides interfaces and types for messaging storage.
// Implementations are in store/mongo, store/postgres, and store/memory
// subpackages.
//
// The contract mirrors a transactional keyed store: get-by-key, overwrite
// put-by-key, conditional single-field updates, and batch-get. Consistency
// is strong per key; there are no cross-key transactions. All concurrency
// concerns are handled through database-native atomic operations:
//
//   - AppendInbox is an atomic list-append-or-create, so concurrent fan-outs
//     of different messages into the same inbox compose without locks. The
//     order recorded is whichever append the store serializes first.
//   - MarkMemberRead updates a single entry inside a message's read-state
//     mapping. Concurrent flips by different members target disjoint keys
//     and do not conflict.
//   - AddMember enforces membership uniqueness at the store, returning
//     ErrDuplicateEntry rather than relying on a check-then-write.
//
// A send that requires N writes (one message put plus N inbox appends) is
// deliberately not atomic as a whole; the fan-out engine owns the partial
// failure policy.
package store

import "context"

// Store is the storage interface for the messaging backend.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	UserStore
	GroupStore
	BlockStore
	MessageStore
}

// UserStore provides user identity and inbox index operations.
type UserStore interface {
	// CreateUser persists a new user with an empty inbox index.
	CreateUser(ctx context.Context, userID string) error

	// GetUser retrieves a user and their inbox index.
	// Returns ErrNotFound if the user doesn't exist.
	GetUser(ctx context.Context, userID string) (*User, error)

	// AppendInbox atomically appends a message ID to the user's inbox
	// index, creating the index if it doesn't exist yet.
	AppendInbox(ctx context.Context, userID, messageID string) error
}

// GroupStore provides group and membership operations.
type GroupStore interface {
	// CreateGroup persists a new group.
	CreateGroup(ctx context.Context, group *Group) error

	// GetGroup retrieves a group and its current member set.
	// Returns ErrNotFound if the group doesn't exist.
	GetGroup(ctx context.Context, groupID string) (*Group, error)

	// AddMember appends a user to the group's member set.
	// Returns ErrNotFound if the group doesn't exist and ErrDuplicateEntry
	// if the user is already a member.
	AddMember(ctx context.Context, groupID, userID string) error

	// RemoveMember removes a user from the group's member set.
	// Returns ErrNotFound if the group doesn't exist and ErrNotMember if
	// the user is not a member.
	RemoveMember(ctx context.Context, groupID, userID string) error
}

// BlockStore provides directed block-relationship operations. An edge
// (blocker, blocked) means blocker refuses delivery from blocked; symmetry
// is not assumed.
type BlockStore interface {
	// Block records that userID has blocked blockedUserID. Re-blocking an
	// already blocked user is a no-op.
	Block(ctx context.Context, userID, blockedUserID string) error

	// HasBlocked reports whether userID has blocked blockedUserID.
	// This is a point lookup (reverse-index style query).
	HasBlocked(ctx context.Context, userID, blockedUserID string) (bool, error)

	// BlockedUsers returns the full set of user IDs blocked by userID.
	// A user with no block list has an empty set, not an error.
	BlockedUsers(ctx context.Context, userID string) ([]string, error)
}

// MessageStore provides message record operations.
type MessageStore interface {
	// PutMessage persists a message record (overwrite-by-key).
	PutMessage(ctx context.Context, msg *Message) error

	// BatchGetMessages retrieves the messages for the given IDs. IDs with
	// no backing record are silently absent from the result; the order of
	// returned messages follows the order of the requested IDs.
	BatchGetMessages(ctx context.Context, ids []string) ([]*Message, error)

	// MarkRead sets a direct message's read flag.
	// Returns ErrNotFound if the message doesn't exist.
	MarkRead(ctx context.Context, messageID string) error

	// MarkMemberRead sets one member's entry in a group message's
	// read-state mapping, leaving the other entries untouched.
	// Returns ErrNotFound if the message doesn't exist.
	MarkMemberRead(ctx context.Context, messageID, userID string) error
}
