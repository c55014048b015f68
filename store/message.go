package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"
)

// User is a registered identity plus its inbox index: the ordered list of
// message IDs delivered to the user. The index is append-only - entries are
// never removed, a message is only individually marked read.
type User struct {
	ID               string   `json:"user_id"`
	ReceivedMessages []string `json:"received_messages,omitempty"`
}

// Group is a named set of member user IDs. Membership is unique on insert.
type Group struct {
	ID        string   `json:"group_id"`
	Name      string   `json:"group_name"`
	CreatorID string   `json:"creator_id"`
	Members   []string `json:"members"`
}

// HasMember reports whether userID is in the member set.
func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// Message is the durable message record created by the fan-out engine.
// Exactly one of ReceiverID (direct) or GroupID (group) is set, and the
// shape of ReadState matches that delivery mode.
type Message struct {
	ID         string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	Body       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty"`
	ReadState  ReadState `json:"is_read"`
}

// IsGroup reports whether the message was delivered through a group.
func (m *Message) IsGroup() bool {
	return m.GroupID != ""
}

// ReadState is the per-recipient read tracking for a message.
//
// It is a two-case variant selected by the message's delivery mode: a direct
// message carries a single flag, a group message carries one flag per member
// as snapshotted at fan-out time. On the wire it serializes to either a bare
// boolean or an object mapping member IDs to booleans.
//
// Group entries are never removed after creation; flags only transition
// false to true.
type ReadState struct {
	read    bool
	members map[string]bool // nil for the direct shape
}

// DirectUnread returns the read state for a freshly delivered direct message.
func DirectUnread() ReadState {
	return ReadState{}
}

// GroupUnread returns the read state for a group message fanned out to the
// given membership snapshot. Every member starts unread.
func GroupUnread(members []string) ReadState {
	m := make(map[string]bool, len(members))
	for _, id := range members {
		m[id] = false
	}
	return ReadState{members: m}
}

// DirectState returns a direct-shape state with the given flag.
// Intended for store implementations decoding persisted records.
func DirectState(read bool) ReadState {
	return ReadState{read: read}
}

// GroupState returns a group-shape state with the given flags.
// Intended for store implementations decoding persisted records.
func GroupState(flags map[string]bool) ReadState {
	m := make(map[string]bool, len(flags))
	for id, read := range flags {
		m[id] = read
	}
	return ReadState{members: m}
}

// IsGroup reports whether this is the per-member shape.
func (r ReadState) IsGroup() bool {
	return r.members != nil
}

// UnreadFor reports whether the message is unread for the given user.
// For the direct shape the user ID is ignored. For the group shape a user
// absent from the snapshot has no unread message (they joined after the
// send), so this returns false.
func (r ReadState) UnreadFor(userID string) bool {
	if r.members == nil {
		return !r.read
	}
	read, ok := r.members[userID]
	return ok && !read
}

// Read reports the direct-shape flag. False for the group shape.
func (r ReadState) Read() bool {
	return r.members == nil && r.read
}

// MemberRead reports the flag for a group member and whether the member is
// present in the snapshot.
func (r ReadState) MemberRead(userID string) (read, ok bool) {
	read, ok = r.members[userID]
	return read, ok
}

// Members returns the membership snapshot in sorted order. Nil for the
// direct shape.
func (r ReadState) Members() []string {
	if r.members == nil {
		return nil
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the state.
func (r ReadState) Clone() ReadState {
	if r.members == nil {
		return r
	}
	m := make(map[string]bool, len(r.members))
	for id, read := range r.members {
		m[id] = read
	}
	return ReadState{members: m}
}

// WithRead returns a copy of a direct-shape state with the flag set.
func (r ReadState) WithRead() ReadState {
	return ReadState{read: true}
}

// WithMemberRead returns a copy of a group-shape state with only the given
// member's flag set. Other members' flags are untouched. A user ID absent
// from the snapshot is not added.
func (r ReadState) WithMemberRead(userID string) ReadState {
	m := make(map[string]bool, len(r.members))
	for id, read := range r.members {
		m[id] = read
	}
	if _, ok := m[userID]; ok {
		m[userID] = true
	}
	return ReadState{members: m}
}

// MarshalJSON encodes the state as a bare boolean (direct) or an object
// keyed by member ID (group).
func (r ReadState) MarshalJSON() ([]byte, error) {
	if r.members != nil {
		return json.Marshal(r.members)
	}
	return json.Marshal(r.read)
}

// UnmarshalJSON decodes either wire shape.
func (r *ReadState) UnmarshalJSON(data []byte) error {
	var read bool
	if err := json.Unmarshal(data, &read); err == nil {
		*r = ReadState{read: read}
		return nil
	}
	var members map[string]bool
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("store: decode read state: %w", err)
	}
	if members == nil {
		members = map[string]bool{}
	}
	*r = ReadState{members: members}
	return nil
}

// Value implements driver.Valuer so the state can live in a JSONB column.
func (r ReadState) Value() (driver.Value, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Scan implements sql.Scanner for JSONB columns.
func (r *ReadState) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return r.UnmarshalJSON(v)
	case string:
		return r.UnmarshalJSON([]byte(v))
	case bool:
		*r = ReadState{read: v}
		return nil
	default:
		return fmt.Errorf("store: cannot scan %T into ReadState", src)
	}
}
