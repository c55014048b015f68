package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/RedRL/messaging-system-backend/retry"
	"github.com/RedRL/messaging-system-backend/store"
)

// RegisterUser creates a new user with a generated ID and an empty inbox.
func (s *service) RegisterUser(ctx context.Context) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	userID := uuid.NewString()
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.CreateUser(ctx, userID)
	})
	if err := storeErr(err); err != nil {
		return "", fmt.Errorf("register user: %w", err)
	}

	s.logger.Info("user registered", "user_id", userID)
	return userID, nil
}

// CreateGroup creates a group owned by creatorID. The creator is always a
// member; duplicate member IDs are collapsed; every member must be a
// registered user.
func (s *service) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	members := dedupeMembers(creatorID, memberIDs)
	for _, id := range members {
		ok, err := s.userExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
	}

	group := &store.Group{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: creatorID,
		Members:   members,
	}
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.CreateGroup(ctx, group)
	})
	if err := storeErr(err); err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}

	s.logger.Info("group created",
		"group_id", group.ID, "creator_id", creatorID, "members", len(members))
	return group.ID, nil
}

// AddUserToGroup adds a registered user to an existing group.
// Returns ErrDuplicateMember if the user is already a member.
func (s *service) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ok, err := s.userExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.AddMember(ctx, groupID, userID)
	})
	err = storeErr(err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	case errors.Is(err, store.ErrDuplicateEntry):
		return fmt.Errorf("%w: %s in group %s", ErrDuplicateMember, userID, groupID)
	case err != nil:
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveUserFromGroup removes a user from a group's member set.
// Returns ErrNotMember if the user is not a member. The user's read-state
// entries on already delivered messages are left in place.
func (s *service) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.RemoveMember(ctx, groupID, userID)
	})
	err = storeErr(err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	case errors.Is(err, store.ErrNotMember):
		return fmt.Errorf("%w: %s in group %s", ErrNotMember, userID, groupID)
	case err != nil:
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// BlockUser records that userID refuses delivery from blockedUserID.
// Blocking is directed; the reverse direction is unaffected. Re-blocking
// is a no-op.
func (s *service) BlockUser(ctx context.Context, userID, blockedUserID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	for _, id := range []string{userID, blockedUserID} {
		ok, err := s.userExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
	}

	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.Block(ctx, userID, blockedUserID)
	})
	if err := storeErr(err); err != nil {
		return fmt.Errorf("block user: %w", err)
	}

	s.logger.Info("user blocked", "user_id", userID, "blocked_user_id", blockedUserID)
	return nil
}

// dedupeMembers returns the creator plus unique member IDs, preserving
// first-seen order.
func dedupeMembers(creatorID string, memberIDs []string) []string {
	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	return members
}
