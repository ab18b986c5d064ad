package server

import (
	"sort"
	"sync"
)

// SessionRegistry maps a user id to that user's live connections. A user
// may hold several connections at once (multiple devices or tabs) and is
// online iff the set is non-empty. The registry is the only shared
// mutable state touched by concurrent connection handlers; a single
// coarse lock serializes it.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]map[*Client]struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]map[*Client]struct{}),
	}
}

// Register adds the connection under the user and reports whether the
// user transitioned from offline to online. Registering the same
// connection twice is a no-op.
func (sr *SessionRegistry) Register(userId string, c *Client) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	conns, ok := sr.sessions[userId]
	if !ok {
		conns = make(map[*Client]struct{})
		sr.sessions[userId] = conns
	}
	conns[c] = struct{}{}

	return !ok
}

// Unregister removes the connection from whatever user owns it. It
// returns the user id and true if this was the user's last connection;
// the entry itself is deleted, never left empty.
func (sr *SessionRegistry) Unregister(c *Client) (string, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	for userId, conns := range sr.sessions {
		if _, ok := conns[c]; !ok {
			continue
		}

		delete(conns, c)
		if len(conns) == 0 {
			delete(sr.sessions, userId)
			return userId, true
		}
		return userId, false
	}

	return "", false
}

func (sr *SessionRegistry) IsOnline(userId string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return len(sr.sessions[userId]) > 0
}

// ConnectionsFor returns all live connections for the user, used to fan
// an event out to every one of a user's devices.
func (sr *SessionRegistry) ConnectionsFor(userId string) []*Client {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	conns := make([]*Client, 0, len(sr.sessions[userId]))
	for c := range sr.sessions[userId] {
		conns = append(conns, c)
	}

	return conns
}

// Snapshot returns the ids of all currently online users in sorted order.
func (sr *SessionRegistry) Snapshot() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	userIds := make([]string, 0, len(sr.sessions))
	for userId := range sr.sessions {
		userIds = append(userIds, userId)
	}
	sort.Strings(userIds)

	return userIds
}

func (sr *SessionRegistry) NumOnline() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return len(sr.sessions)
}
