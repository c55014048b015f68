package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a user, group, or message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrDuplicateEntry is returned when a duplicate entry is detected,
	// e.g. adding a user to a group they already belong to.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotMember is returned when removing a user from a group they
	// do not belong to.
	ErrNotMember = errors.New("store: not a member")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
