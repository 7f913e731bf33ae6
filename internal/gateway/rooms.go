package gateway

import "sync"

// RoomSet tracks conversation-room membership in both directions: the
// connections joined to each room, and the rooms each connection has
// joined. Membership is ephemeral and never touches persisted state.
type RoomSet struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

// NewRoomSet returns an empty RoomSet.
func NewRoomSet() *RoomSet {
	return &RoomSet{
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

// Join adds the connection to the room. Joining twice is a no-op.
func (r *RoomSet) Join(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Client]struct{})
	}
	r.rooms[room][c] = struct{}{}

	if r.byClient[c] == nil {
		r.byClient[c] = make(map[string]struct{})
	}
	r.byClient[c][room] = struct{}{}
}

// Leave removes the connection from the room.
func (r *RoomSet) Leave(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, c)
}

func (r *RoomSet) leaveLocked(room string, c *Client) {
	if members := r.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms := r.byClient[c]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.byClient, c)
		}
	}
}

// LeaveAll removes the connection from every room it joined and returns
// the rooms it was a member of.
func (r *RoomSet) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]string, 0, len(r.byClient[c]))
	for room := range r.byClient[c] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(room, c)
	}
	return rooms
}

// Contains reports whether the connection is a member of the room.
func (r *RoomSet) Contains(room string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

// Members returns the connections currently joined to the room.
func (r *RoomSet) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		out = append(out, c)
	}
	return out
}

// Broadcast enqueues the payload to every member of the room, optionally
// skipping one connection (typically the originator).
func (r *RoomSet) Broadcast(room string, payload []byte, except *Client) {
	for _, c := range r.Members(room) {
		if c == except {
			continue
		}
		c.enqueue(payload)
	}
}
