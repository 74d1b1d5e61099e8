package ws

import (
	"sync"
)

// Hub is the connection registry of one node: which users have open
// connections here, and which connections joined which rooms.
//
// A user id is present in the registry only while at least one of its
// connections is open. Rooms are dropped as soon as they become empty.
type Hub struct {
	mu    sync.RWMutex
	users map[string][]*Client
	rooms map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		users: make(map[string][]*Client),
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Register appends c to the connections of userID.
func (h *Hub) Register(userID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[userID] = append(h.users[userID], c)
}

// Unregister removes the connection with connID from userID and takes it out
// of every room it joined. It returns how many connections the user still has
// on this node.
func (h *Hub) Unregister(userID, connID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.users[userID]
	if !ok {
		return 0
	}
	kept := conns[:0]
	for _, c := range conns {
		if c.ID() == connID {
			h.leaveAllLocked(c)
			continue
		}
		kept = append(kept, c)
	}
	// clear the tail so removed clients can be collected
	for i := len(kept); i < len(conns); i++ {
		conns[i] = nil
	}
	if len(kept) == 0 {
		delete(h.users, userID)
		return 0
	}
	h.users[userID] = kept
	return len(kept)
}

// Connections returns a snapshot of userID's connections, nil if none.
func (h *Hub) Connections(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, len(conns))
	copy(out, conns)
	return out
}

// Online reports whether userID has a connection on this node.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// Users returns the number of distinct users connected to this node.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// Join adds c to room.
func (h *Hub) Join(c *Client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// RoomMembers returns a snapshot of the connections joined to room.
func (h *Hub) RoomMembers(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns the rooms c has joined.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// CloseAll closes every registered connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, conns := range h.users {
		all = append(all, conns...)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) leaveAllLocked(c *Client) {
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}
