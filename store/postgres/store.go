// Package postgres provides a PostgreSQL implementation of store.Store.
//
// Inbox indexes and group member sets are TEXT[] columns mutated with
// array_append/array_remove inside single UPDATE statements, so appends are
// atomic without explicit locking. The polymorphic read state lives in a
// JSONB column: a bare boolean for direct messages, an object keyed by
// member ID for group messages, flipped per member with jsonb_set.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/RedRL/messaging-system-backend/store"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT PRIMARY KEY,
				received_messages TEXT[] NOT NULL DEFAULT '{}'
			)
		`, s.usersTable()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				group_id TEXT PRIMARY KEY,
				group_name TEXT NOT NULL DEFAULT '',
				creator_id TEXT NOT NULL DEFAULT '',
				members TEXT[] NOT NULL DEFAULT '{}'
			)
		`, s.groupsTable()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT NOT NULL,
				blocked_user_id TEXT NOT NULL,
				PRIMARY KEY (user_id, blocked_user_id)
			)
		`, s.blocksTable()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				message_id TEXT PRIMARY KEY,
				sender_id TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				sent_at TIMESTAMPTZ NOT NULL,
				receiver_id TEXT,
				group_id TEXT,
				is_read JSONB NOT NULL
			)
		`, s.messagesTable()),
		// Reverse index: lookups by who was blocked.
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_blocked ON %s(blocked_user_id, user_id)`,
			s.blocksTable(), s.blocksTable()),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) usersTable() string    { return s.opts.prefix + "users" }
func (s *Store) groupsTable() string   { return s.opts.prefix + "groups" }
func (s *Store) blocksTable() string   { return s.opts.prefix + "blocks" }
func (s *Store) messagesTable() string { return s.opts.prefix + "messages" }

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
