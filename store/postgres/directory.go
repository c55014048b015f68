package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/RedRL/messaging-system-backend/store"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateUser persists a new user with an empty inbox index.
func (s *Store) CreateUser(ctx context.Context, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`INSERT INTO %s (user_id) VALUES ($1)`, s.usersTable())
	_, err := s.db.ExecContext(ctx, query, userID)
	if isDuplicateKey(err) {
		return store.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user and their inbox index.
func (s *Store) GetUser(ctx context.Context, userID string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	query := fmt.Sprintf(`SELECT received_messages FROM %s WHERE user_id = $1`, s.usersTable())
	var inbox pq.StringArray
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&inbox)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &store.User{ID: userID, ReceivedMessages: inbox}, nil
}

// AppendInbox atomically appends a message ID to the user's inbox index.
// array_append inside a single UPDATE keeps concurrent appends from losing
// entries.
func (s *Store) AppendInbox(ctx context.Context, userID, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" || messageID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		UPDATE %s SET received_messages = array_append(received_messages, $2)
		WHERE user_id = $1
	`, s.usersTable())
	res, err := s.db.ExecContext(ctx, query, userID, messageID)
	if err != nil {
		return fmt.Errorf("append inbox: %w", err)
	}
	return s.requireRows(res, store.ErrNotFound)
}

// CreateGroup persists a new group.
func (s *Store) CreateGroup(ctx context.Context, group *store.Group) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if group == nil || group.ID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (group_id, group_name, creator_id, members)
		VALUES ($1, $2, $3, $4)
	`, s.groupsTable())
	_, err := s.db.ExecContext(ctx, query,
		group.ID, group.Name, group.CreatorID, pq.Array(group.Members))
	if isDuplicateKey(err) {
		return store.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group and its current member set.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*store.Group, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if groupID == "" {
		return nil, store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		SELECT group_name, creator_id, members FROM %s WHERE group_id = $1
	`, s.groupsTable())
	group := &store.Group{ID: groupID}
	var members pq.StringArray
	err := s.db.QueryRowContext(ctx, query, groupID).
		Scan(&group.Name, &group.CreatorID, &members)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select group: %w", err)
	}
	group.Members = members
	return group, nil
}

// AddMember appends a user to the group's member set. The membership check
// and the append happen in one UPDATE so concurrent adds cannot duplicate.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		UPDATE %s SET members = array_append(members, $2)
		WHERE group_id = $1 AND NOT ($2 = ANY(members))
	`, s.groupsTable())
	res, err := s.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return s.requireRowsOrGroup(ctx, res, groupID, store.ErrDuplicateEntry)
}

// RemoveMember removes a user from the group's member set.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		UPDATE %s SET members = array_remove(members, $2)
		WHERE group_id = $1 AND $2 = ANY(members)
	`, s.groupsTable())
	res, err := s.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return s.requireRowsOrGroup(ctx, res, groupID, store.ErrNotMember)
}

// Block records that userID has blocked blockedUserID. Repeat blocks are
// no-ops.
func (s *Store) Block(ctx context.Context, userID, blockedUserID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" || blockedUserID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, blocked_user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, s.blocksTable())
	if _, err := s.db.ExecContext(ctx, query, userID, blockedUserID); err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// HasBlocked reports whether userID has blocked blockedUserID.
func (s *Store) HasBlocked(ctx context.Context, userID, blockedUserID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1 AND blocked_user_id = $2)
	`, s.blocksTable())
	var blocked bool
	if err := s.db.QueryRowContext(ctx, query, userID, blockedUserID).Scan(&blocked); err != nil {
		return false, fmt.Errorf("select block: %w", err)
	}
	return blocked, nil
}

// BlockedUsers returns the full set of user IDs blocked by userID.
func (s *Store) BlockedUsers(ctx context.Context, userID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT blocked_user_id FROM %s WHERE user_id = $1
	`, s.blocksTable())
	var blocked []string
	if err := s.db.SelectContext(ctx, &blocked, query, userID); err != nil {
		return nil, fmt.Errorf("select blocks: %w", err)
	}
	return blocked, nil
}

// requireRows maps a zero-row update to the given sentinel.
func (s *Store) requireRows(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

// requireRowsOrGroup distinguishes a missing group from a guarded update
// whose membership condition did not match.
func (s *Store) requireRowsOrGroup(ctx context.Context, res sql.Result, groupID string, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE group_id = $1)`, s.groupsTable())
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, groupID).Scan(&exists); err != nil {
		return fmt.Errorf("select group: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return guardErr
}
