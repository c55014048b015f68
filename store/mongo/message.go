package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/RedRL/messaging-system-backend/store"
)

// messageDoc is the persisted message shape. is_read is decoded as a raw
// value because it carries two shapes: a bare boolean for direct messages
// and a member->bool document for group messages.
type messageDoc struct {
	ID         string        `bson:"_id"`
	SenderID   string        `bson:"sender_id"`
	Body       string        `bson:"message"`
	Timestamp  time.Time     `bson:"timestamp"`
	ReceiverID string        `bson:"receiver_id,omitempty"`
	GroupID    string        `bson:"group_id,omitempty"`
	IsRead     bson.RawValue `bson:"is_read"`
}

func (d *messageDoc) toMessage() (*store.Message, error) {
	msg := &store.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		Body:       d.Body,
		Timestamp:  d.Timestamp,
		ReceiverID: d.ReceiverID,
		GroupID:    d.GroupID,
	}

	switch d.IsRead.Type {
	case bson.TypeBoolean:
		msg.ReadState = store.DirectState(d.IsRead.Boolean())
	case bson.TypeEmbeddedDocument:
		var flags map[string]bool
		if err := bson.UnmarshalValue(d.IsRead.Type, d.IsRead.Value, &flags); err != nil {
			return nil, fmt.Errorf("decode read state: %w", err)
		}
		msg.ReadState = store.GroupState(flags)
	default:
		return nil, fmt.Errorf("message %s: unexpected is_read type %s", d.ID, d.IsRead.Type)
	}
	return msg, nil
}

// readStateValue encodes a ReadState into its wire shape.
func readStateValue(r store.ReadState) any {
	if !r.IsGroup() {
		return r.Read()
	}
	flags := bson.M{}
	for _, id := range r.Members() {
		read, _ := r.MemberRead(id)
		flags[id] = read
	}
	return flags
}

// PutMessage persists a message record (overwrite-by-key).
func (s *Store) PutMessage(ctx context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if msg == nil || msg.ID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := bson.M{
		"_id":       msg.ID,
		"sender_id": msg.SenderID,
		"message":   msg.Body,
		"timestamp": msg.Timestamp,
		"is_read":   readStateValue(msg.ReadState),
	}
	if msg.ReceiverID != "" {
		doc["receiver_id"] = msg.ReceiverID
	}
	if msg.GroupID != "" {
		doc["group_id"] = msg.GroupID
	}

	_, err := s.messages.ReplaceOne(ctx,
		bson.M{"_id": msg.ID},
		doc,
		mongooptions.Replace().SetUpsert(true),
	)
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.messages.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	defer cursor.Close(ctx)

	byID := make(map[string]*store.Message, len(ids))
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msg, err := doc.toMessage()
		if err != nil {
			return nil, err
		}
		byID[msg.ID] = msg
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("batch get cursor: %w", err)
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkMemberRead sets one member's entry in a group message's read-state
// mapping. The dotted path keeps the update scoped to that member's field,
// and the $exists filter only flips entries already in the snapshot; a
// member absent from the map is left absent.
func (s *Store) MarkMemberRead(ctx context.Context, messageID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if messageID == "" || userID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	field := "is_read." + userID
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID, field: bson.M{"$exists": true}},
		bson.M{"$set": bson.M{field: true}},
	)
	if err != nil {
		return fmt.Errorf("mark member read: %w", err)
	}
	if res.MatchedCount == 0 {
		// Either the message is gone or the member was never in the
		// snapshot; disambiguate with a point lookup.
		exists, err := s.messages.CountDocuments(ctx, bson.M{"_id": messageID}, mongooptions.Count().SetLimit(1))
		if err != nil {
			return fmt.Errorf("mark member read: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
	}
	return nil
}
