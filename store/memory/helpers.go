package memory

import (
	"slices"

	"github.com/RedRL/messaging-system-backend/store"
)

// Stored records are cloned on every read and write so callers can never
// mutate shared state behind the per-key locks.

func cloneUser(u *store.User) *store.User {
	c := *u
	c.ReceivedMessages = slices.Clone(u.ReceivedMessages)
	return &c
}

func cloneGroup(g *store.Group) *store.Group {
	c := *g
	c.Members = slices.Clone(g.Members)
	return &c
}

func cloneMessage(m *store.Message) *store.Message {
	c := *m
	c.ReadState = m.ReadState.Clone()
	return &c
}
