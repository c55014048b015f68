// Package mongo provides a MongoDB implementation of store.Store.
//
// Layout mirrors the keyed-store model: one collection per entity keyed by
// _id. Inbox appends use $push (atomic list-append-or-create), membership
// uses $addToSet for insert-time uniqueness, and per-member read flags use
// dotted-path $set updates so concurrent flips by different members touch
// disjoint fields.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/RedRL/messaging-system-backend/store"
)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	users     *mongo.Collection
	groups    *mongo.Collection
	blocks    *mongo.Collection
	messages  *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.users = s.db.Collection(s.opts.usersCollection)
	s.groups = s.db.Collection(s.opts.groupsCollection)
	s.blocks = s.db.Collection(s.opts.blocksCollection)
	s.messages = s.db.Collection(s.opts.messagesCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes. The multikey index on
// blocks.blocked_users is the reverse index behind HasBlocked point lookups.
func (s *Store) ensureIndexes(ctx context.Context) error {
	blockIdx := mongo.IndexModel{
		Keys: bson.D{bson.E{Key: "blocked_users", Value: 1}},
	}
	if _, err := s.blocks.Indexes().CreateOne(ctx, blockIdx); err != nil {
		return fmt.Errorf("blocks index: %w", err)
	}

	memberIdx := mongo.IndexModel{
		Keys: bson.D{bson.E{Key: "members", Value: 1}},
	}
	if _, err := s.groups.Indexes().CreateOne(ctx, memberIdx); err != nil {
		return fmt.Errorf("groups index: %w", err)
	}

	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
