// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RedRL/messaging-system-backend/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	users     sync.Map // map[string]*store.User
	groups    sync.Map // map[string]*store.Group
	blocks    sync.Map // map[string]map[string]bool (blocker -> blocked set)
	messages  sync.Map // map[string]*store.Message
	keyLocks  sync.Map // map[string]*sync.Mutex (per-key locks for conditional updates)
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// keyLock returns the mutex for a key, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) keyLock(key string) *sync.Mutex {
	lock, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// =============================================================================
// User Operations
// =============================================================================

// CreateUser persists a new user with an empty inbox index.
func (s *Store) CreateUser(_ context.Context, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" {
		return store.ErrInvalidID
	}
	if _, loaded := s.users.LoadOrStore(userID, &store.User{ID: userID}); loaded {
		return store.ErrDuplicateEntry
	}
	return nil
}

// GetUser retrieves a user and their inbox index.
func (s *Store) GetUser(_ context.Context, userID string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.users.Load(userID)
	if !ok {
		return nil, store.ErrNotFound
	}

	lock := s.keyLock("user:" + userID)
	lock.Lock()
	defer lock.Unlock()
	return cloneUser(v.(*store.User)), nil
}

// AppendInbox atomically appends a message ID to the user's inbox index.
func (s *Store) AppendInbox(_ context.Context, userID, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" || messageID == "" {
		return store.ErrInvalidID
	}

	v, ok := s.users.Load(userID)
	if !ok {
		return store.ErrNotFound
	}

	lock := s.keyLock("user:" + userID)
	lock.Lock()
	defer lock.Unlock()

	u := v.(*store.User)
	u.ReceivedMessages = append(u.ReceivedMessages, messageID)
	return nil
}

// =============================================================================
// Group Operations
// =============================================================================

// CreateGroup persists a new group.
func (s *Store) CreateGroup(_ context.Context, group *store.Group) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if group == nil || group.ID == "" {
		return store.ErrInvalidID
	}
	if _, loaded := s.groups.LoadOrStore(group.ID, cloneGroup(group)); loaded {
		return store.ErrDuplicateEntry
	}
	return nil
}

// GetGroup retrieves a group and its current member set.
func (s *Store) GetGroup(_ context.Context, groupID string) (*store.Group, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if groupID == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.groups.Load(groupID)
	if !ok {
		return nil, store.ErrNotFound
	}

	lock := s.keyLock("group:" + groupID)
	lock.Lock()
	defer lock.Unlock()
	return cloneGroup(v.(*store.Group)), nil
}

// AddMember appends a user to the group's member set.
func (s *Store) AddMember(_ context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return store.ErrInvalidID
	}

	v, ok := s.groups.Load(groupID)
	if !ok {
		return store.ErrNotFound
	}

	lock := s.keyLock("group:" + groupID)
	lock.Lock()
	defer lock.Unlock()

	g := v.(*store.Group)
	if slices.Contains(g.Members, userID) {
		return store.ErrDuplicateEntry
	}
	g.Members = append(g.Members, userID)
	return nil
}

// RemoveMember removes a user from the group's member set.
func (s *Store) RemoveMember(_ context.Context, groupID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return store.ErrInvalidID
	}

	v, ok := s.groups.Load(groupID)
	if !ok {
		return store.ErrNotFound
	}

	lock := s.keyLock("group:" + groupID)
	lock.Lock()
	defer lock.Unlock()

	g := v.(*store.Group)
	i := slices.Index(g.Members, userID)
	if i < 0 {
		return store.ErrNotMember
	}
	g.Members = slices.Delete(slices.Clone(g.Members), i, i+1)
	return nil
}

// =============================================================================
// Block Operations
// =============================================================================

// Block records that userID has blocked blockedUserID.
func (s *Store) Block(_ context.Context, userID, blockedUserID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if userID == "" || blockedUserID == "" {
		return store.ErrInvalidID
	}

	lock := s.keyLock("blocks:" + userID)
	lock.Lock()
	defer lock.Unlock()

	v, _ := s.blocks.LoadOrStore(userID, map[string]bool{})
	v.(map[string]bool)[blockedUserID] = true
	return nil
}

// HasBlocked reports whether userID has blocked blockedUserID.
func (s *Store) HasBlocked(_ context.Context, userID, blockedUserID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	v, ok := s.blocks.Load(userID)
	if !ok {
		return false, nil
	}

	lock := s.keyLock("blocks:" + userID)
	lock.Lock()
	defer lock.Unlock()
	return v.(map[string]bool)[blockedUserID], nil
}

// BlockedUsers returns the full set of user IDs blocked by userID.
func (s *Store) BlockedUsers(_ context.Context, userID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	v, ok := s.blocks.Load(userID)
	if !ok {
		return nil, nil
	}

	lock := s.keyLock("blocks:" + userID)
	lock.Lock()
	defer lock.Unlock()

	set := v.(map[string]bool)
	blocked := make([]string, 0, len(set))
	for id := range set {
		blocked = append(blocked, id)
	}
	return blocked, nil
}

// =============================================================================
// Message Operations
// =============================================================================

// PutMessage persists a message record (overwrite-by-key).
func (s *Store) PutMessage(_ context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if msg == nil || msg.ID == "" {
		return store.ErrInvalidID
	}
	s.messages.Store(msg.ID, cloneMessage(msg))
	return nil
}

// BatchGetMessages retrieves the messages for the given IDs.
// IDs with no backing record are silently absent from the result.
func (s *Store) BatchGetMessages(_ context.Context, ids []string) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	out := make([]*store.Message, 0, len(ids))
	for _, id := range ids {
		v, ok := s.messages.Load(id)
		if !ok {
			continue
		}
		lock := s.keyLock("msg:" + id)
		lock.Lock()
		out = append(out, cloneMessage(v.(*store.Message)))
		lock.Unlock()
	}
	return out, nil
}

// MarkRead sets a direct message's read flag.
func (s *Store) MarkRead(_ context.Context, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	v, ok := s.messages.Load(messageID)
	if !ok {
		return store.ErrNotFound
	}

	lock := s.keyLock("msg:" + messageID)
	lock.Lock()
	defer lock.Unlock()

	m := v.(*store.Message)
	m.ReadState = m.ReadState.WithRead()
	return nil
}

// MarkMemberRead sets one member's entry in a group message's read-state
// mapping.
func (s *Store) MarkMemberRead(_ context.Context, messageID, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	v, ok := s.messages.Load(messageID)
	if !ok {
		return store.ErrNotFound
	}

	lock := s.keyLock("msg:" + messageID)
	lock.Lock()
	defer lock.Unlock()

	m := v.(*store.Message)
	m.ReadState = m.ReadState.WithMemberRead(userID)
	return nil
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
