package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/RedRL/messaging-system-backend/store"
)

type userDoc struct {
	ID               string   `bson:"_id"`
	ReceivedMessages []string `bson:"received_messages,omitempty"`
}

type groupDoc struct {
	ID        string   `bson:"_id"`
	Name      string   `bson:"group_name"`
	CreatorID string   `bson:"creator_id"`
	Members   []string `bson:"members"`
}

type blockDoc struct {
	ID           string   `bson:"_id"`
	BlockedUsers []string `bson:"blocked_users,omitempty"`
}

// CreateUser persists a new user with an empty inbox index.
func (s *Store) CreateUser(ctx context.Context, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err := s.users.InsertOne(ctx, userDoc{ID: userID})
	if mongo.IsDuplicateKeyError(err) {
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &store.User{ID: doc.ID, ReceivedMessages: doc.ReceivedMessages}, nil
}

// AppendInbox atomically appends a message ID to the user's inbox index.
// $push creates the array when the field is missing, matching
// list-append-or-create semantics.
func (s *Store) AppendInbox(ctx context.Context, userID, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" || messageID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$push": bson.M{"received_messages": messageID}},
	)
	if err != nil {
		return fmt.Errorf("append inbox: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateGroup persists a new group.
func (s *Store) CreateGroup(ctx context.Context, group *store.Group) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if group == nil || group.ID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := groupDoc{
		ID:        group.ID,
		Name:      group.Name,
		CreatorID: group.CreatorID,
		Members:   group.Members,
	}
	_, err := s.groups.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc groupDoc
	err := s.groups.FindOne(ctx, bson.M{"_id": groupID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find group: %w", err)
	}
	return &store.Group{
		ID:        doc.ID,
		Name:      doc.Name,
		CreatorID: doc.CreatorID,
		Members:   doc.Members,
	}, nil
}

// AddMember appends a user to the group's member set. $addToSet makes the
// uniqueness check and the append a single atomic operation.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.groups.UpdateOne(ctx,
		bson.M{"_id": groupID},
		bson.M{"$addToSet": bson.M{"members": userID}},
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	if res.ModifiedCount == 0 {
		return store.ErrDuplicateEntry
	}
	return nil
}

// RemoveMember removes a user from the group's member set.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.groups.UpdateOne(ctx,
		bson.M{"_id": groupID},
		bson.M{"$pull": bson.M{"members": userID}},
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	if res.ModifiedCount == 0 {
		return store.ErrNotMember
	}
	return nil
}

// Block records that userID has blocked blockedUserID.
func (s *Store) Block(ctx context.Context, userID, blockedUserID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" || blockedUserID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err := s.blocks.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$addToSet": bson.M{"blocked_users": blockedUserID}},
		mongooptions.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// HasBlocked reports whether userID has blocked blockedUserID using the
// blocked_users reverse index.
func (s *Store) HasBlocked(ctx context.Context, userID, blockedUserID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	n, err := s.blocks.CountDocuments(ctx, bson.M{
		"_id":           userID,
		"blocked_users": blockedUserID,
	})
	if err != nil {
		return false, fmt.Errorf("count blocks: %w", err)
	}
	return n > 0, nil
}

// BlockedUsers returns the full set of user IDs blocked by userID.
func (s *Store) BlockedUsers(ctx context.Context, userID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc blockDoc
	err := s.blocks.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find blocks: %w", err)
	}
	return doc.BlockedUsers, nil
}
