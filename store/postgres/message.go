package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/RedRL/messaging-system-backend/store"
)

// PutMessage persists a message record (overwrite-by-key). ReadState carries
// its own JSONB codec, so the polymorphic read shape round-trips unchanged.
func (s *Store) PutMessage(ctx context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if msg == nil || msg.ID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, sender_id, body, sent_at, receiver_id, group_id, is_read)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
		ON CONFLICT (message_id) DO UPDATE SET
			sender_id = EXCLUDED.sender_id,
			body = EXCLUDED.body,
			sent_at = EXCLUDED.sent_at,
			receiver_id = EXCLUDED.receiver_id,
			group_id = EXCLUDED.group_id,
			is_read = EXCLUDED.is_read
	`, s.messagesTable())
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.Body, msg.Timestamp,
		msg.ReceiverID, msg.GroupID, msg.ReadState)
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// BatchGetMessages retrieves the messages for the given IDs, in request
// order. Missing IDs are silently absent.
func (s *Store) BatchGetMessages(ctx context.Context, ids []string) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT message_id, sender_id, body, sent_at,
		       COALESCE(receiver_id, ''), COALESCE(group_id, ''), is_read
		FROM %s WHERE message_id = ANY($1)
	`, s.messagesTable())
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*store.Message, len(ids))
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch get rows: %w", err)
	}

	out := make([]*store.Message, 0, len(byID))
	for _, id := range ids {
		if msg, ok := byID[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// MarkRead sets a direct message's read flag.
func (s *Store) MarkRead(ctx context.Context, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if messageID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		UPDATE %s SET is_read = 'true'::jsonb WHERE message_id = $1
	`, s.messagesTable())
	res, err := s.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return s.requireRows(res, store.ErrNotFound)
}

// MarkMemberRead sets one member's entry in a group message's read-state
// mapping. jsonb_set with create_missing=false leaves departed members out
// of the map.
func (s *Store) MarkMemberRead(ctx context.Context, messageID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if messageID == "" || userID == "" {
		return store.ErrInvalidID
	}

	query := fmt.Sprintf(`
		UPDATE %s SET is_read = jsonb_set(is_read, ARRAY[$2], 'true'::jsonb, false)
		WHERE message_id = $1
	`, s.messagesTable())
	res, err := s.db.ExecContext(ctx, query, messageID, userID)
	if err != nil {
		return fmt.Errorf("mark member read: %w", err)
	}
	return s.requireRows(res, store.ErrNotFound)
}

func scanMessage(rows *sql.Rows) (*store.Message, error) {
	msg := &store.Message{}
	var sentAt time.Time
	err := rows.Scan(&msg.ID, &msg.SenderID, &msg.Body, &sentAt,
		&msg.ReceiverID, &msg.GroupID, &msg.ReadState)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Timestamp = sentAt
	return msg, nil
}
