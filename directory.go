package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/RedRL/messaging-system-backend/retry"
	"github.com/RedRL/messaging-system-backend/store"
)

// Directory lookups: pure reads over the store, each wrapped in bounded
// retry. Not-found outcomes are answers, not transient failures, so they
// short-circuit the retry loop via isTransientStoreErr.

// isTransientStoreErr reports whether a store error is worth retrying.
// Definitive store answers (not found, duplicate, not a member) and local
// usage errors are terminal.
func isTransientStoreErr(err error) bool {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicateEntry),
		errors.Is(err, store.ErrNotMember),
		errors.Is(err, store.ErrInvalidID),
		errors.Is(err, store.ErrNotConnected):
		return false
	}
	return true
}

// storeErr maps retry exhaustion to ErrStoreUnavailable, passing through
// terminal store errors unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		if errors.Is(rerr.Err, retry.ErrNotRetryable) {
			return rerr.Cause
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, rerr.Cause)
	}
	return err
}

// userExists reports whether the user is registered.
func (s *service) userExists(ctx context.Context, userID string) (bool, error) {
	_, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) (*store.User, error) {
		return s.store.GetUser(ctx, userID)
	})
	err = storeErr(err)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// getUser retrieves a user, mapping absence to ErrUserNotFound.
func (s *service) getUser(ctx context.Context, userID string) (*store.User, error) {
	user, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) (*store.User, error) {
		return s.store.GetUser(ctx, userID)
	})
	err = storeErr(err)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// getGroup retrieves a group, mapping absence to ErrGroupNotFound.
func (s *service) getGroup(ctx context.Context, groupID string) (*store.Group, error) {
	group, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) (*store.Group, error) {
		return s.store.GetGroup(ctx, groupID)
	})
	err = storeErr(err)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

// receiverHasBlocked reports whether the receiver has blocked the sender,
// using the store's point lookup. Used on the validation path.
func (s *service) receiverHasBlocked(ctx context.Context, receiverID, senderID string) (bool, error) {
	blocked, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) (bool, error) {
		return s.store.HasBlocked(ctx, receiverID, senderID)
	})
	if err := storeErr(err); err != nil {
		return false, err
	}
	return blocked, nil
}

// blockedBySender reports whether the receiver's full block list contains
// the sender. Used on the fan-out path; same direction as
// receiverHasBlocked, different store access.
func (s *service) blockedBySender(ctx context.Context, receiverID, senderID string) (bool, error) {
	list, err := retry.DoWithResult(ctx, s.retryCfg, func(ctx context.Context) ([]string, error) {
		return s.store.BlockedUsers(ctx, receiverID)
	})
	if err := storeErr(err); err != nil {
		return false, err
	}
	return slices.Contains(list, senderID), nil
}
