// Package hub implements the room broadcast hub: typed events fanned out
// to every client currently joined to a named room, and only those
// clients. Rooms exist implicitly while they have members; there is no
// event replay for late joiners.
package hub

import (
	"log/slog"
	"sync"
)

// Hub maps room names to their joined clients.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Join adds a client to a room, creating the room on first join.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes a client from a room, tearing the room down once empty.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *Client) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// LeaveAll removes a client from every room it joined. Called on
// disconnect after per-room cleanup so no membership leaks.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.leaveLocked(room, c)
	}
}

// Broadcast delivers an event to every client in the room. Delivery is
// per-client FIFO: two broadcasts to the same room arrive at each member
// in the order they were issued here. A client whose send buffer is full
// is closed rather than allowed to block the room.
func (h *Hub) Broadcast(room string, ev Event) {
	payload, err := ev.marshal()
	if err != nil {
		slog.Error("Failed to marshal broadcast event", "event", ev.Name, "room", room, "error", err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.enqueue(payload)
	}
}

// RoomSize returns the number of clients currently in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
