// Package hub is the room registry: it tracks which connections belong to
// which broadcast domains and provides the room-scoped and global broadcast
// primitives everything else is built on.
package hub

import (
	"log/slog"
	"sync"
)

// Hub tracks connected clients and their room memberships.
//
// Broadcast reflects membership at the moment of the call: the member set is
// snapshotted under the lock, then delivery happens without it, so a client
// leaving mid-broadcast may or may not receive the payload. Delivery is
// best-effort per connection; a client whose send buffer is full is dropped
// rather than allowed to stall the rest of the room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}

	log *slog.Logger
}

func New(log *slog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		members: make(map[*Client]map[string]struct{}),
		log:     log,
	}
}

// Register admits an authenticated client. Global broadcasts reach every
// registered client regardless of room membership.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[c]; !ok {
		h.members[c] = make(map[string]struct{})
	}
}

// Remove detaches the client from every room it joined, forgets it, and
// closes its send channel. Safe to call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	for room := range h.members[c] {
		h.detach(c, room)
	}
	delete(h.members, c)
	h.mu.Unlock()

	c.close()
}

// Join adds the client to a room. Idempotent.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[c]; !ok {
		h.members[c] = make(map[string]struct{})
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.members[c][room] = struct{}{}
}

// Leave removes the client from a room. A no-op if it was not a member.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(c, room)
	delete(h.members[c], room)
}

// IsMember reports whether the client currently belongs to the room.
func (h *Hub) IsMember(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// CloseRoom drops a room and all its memberships. The clients themselves
// stay connected. Used when a market's auction resolves.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		delete(h.members[c], room)
	}
	delete(h.rooms, room)
}

// RoomSize returns the current member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastRoom delivers a payload to every current member of the room.
func (h *Hub) BroadcastRoom(room string, payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, payload)
}

// BroadcastAll delivers a payload to every registered client, independent of
// room membership. Used for market lifecycle announcements.
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.members))
	for c := range h.members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, payload)
}

// Send queues a payload for one client. Returns false if the client's
// buffer is full; the caller's state is unaffected either way.
func (h *Hub) Send(c *Client, payload []byte) bool {
	defer func() {
		// The send channel closes on Remove; losing that race is the
		// same as the disconnect winning before the send.
		recover()
	}()
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) deliver(targets []*Client, payload []byte) {
	var slow []*Client
	for _, c := range targets {
		if !h.Send(c, payload) {
			slow = append(slow, c)
		}
	}
	// A full buffer means the reader is gone or wedged. Cut it loose so
	// it cannot stall future broadcasts.
	for _, c := range slow {
		h.log.Warn("dropping slow client", "client", c.ID, "user", c.Identity.UserID)
		h.Remove(c)
	}
}

func (h *Hub) detach(c *Client, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			// Market rooms die with their auction; community rooms are
			// recreated lazily on the next join, so dropping the empty
			// set is safe for both kinds.
			delete(h.rooms, room)
		}
	}
}
