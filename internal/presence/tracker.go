// Package presence tracks which users currently hold live realtime
// connections. State is process-local and in-memory: after a restart every
// user appears offline until they reconnect, and the durable online flag in
// the user directory is only a best-effort mirror maintained by the gateway.
package presence

import (
	"sync"
	"time"
)

// Tracker maps user ids to their active connection ids. A user may hold
// several connections at once (multi-device); they are online while at
// least one remains. All transitions are atomic per user id so a racing
// connect and disconnect cannot leave the tracker inconsistent.
type Tracker struct {
	mu       sync.RWMutex
	conns    map[string]map[string]struct{} // userID -> set of connection ids
	users    map[string]string              // connection id -> userID
	lastSeen map[string]time.Time
}

// NewTracker returns an empty Tracker. One instance is created by the
// composition root and shared by reference; there is no package-level state.
func NewTracker() *Tracker {
	return &Tracker{
		conns:    make(map[string]map[string]struct{}),
		users:    make(map[string]string),
		lastSeen: make(map[string]time.Time),
	}
}

// Register associates the connection with the user. It reports whether this
// was the user's first active connection, i.e. the offline→online
// transition.
func (t *Tracker) Register(userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connID] = struct{}{}
	t.users[connID] = userID
	return !ok
}

// Remove drops the connection. It returns the owning user id and whether
// this was the user's last connection (the online→offline transition); ok
// is false for unknown connection ids. On the last removal the user's
// last-seen time is stamped.
func (t *Tracker) Remove(connID string) (userID string, last bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	userID, ok = t.users[connID]
	if !ok {
		return "", false, false
	}
	delete(t.users, connID)

	set := t.conns[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(t.conns, userID)
		t.lastSeen[userID] = time.Now()
		return userID, true, true
	}
	return userID, false, true
}

// IsOnline reports whether the user has at least one active connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

// Connections returns the ids of the user's active connections, used for
// direct delivery across multiple devices.
func (t *Tracker) Connections(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.conns[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// LastSeen returns when the user's last connection was removed. ok is false
// if the user never disconnected during this process's lifetime.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[userID]
	return ts, ok
}

// OnlineCount returns the number of distinct online users.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
