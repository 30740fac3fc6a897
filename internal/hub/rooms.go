package hub

import "go.uber.org/zap"

// Join adds the connection to room. Joining twice has no further effect.
// It returns false when handle is not a registered connection.
func (h *Hub) Join(room, handle string) bool {
	h.mu.Lock()
	if _, ok := h.conns[handle]; !ok {
		h.mu.Unlock()
		return false
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[handle] = struct{}{}
	h.joined[handle][room] = struct{}{}
	count := len(members)
	h.mu.Unlock()

	h.log.Debug("joined room",
		zap.String("room", room),
		zap.String("conn", handle),
		zap.Int("members", count))
	return true
}

// Leave removes the connection from room. It is a no-op for non-members.
func (h *Hub) Leave(room, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rooms, ok := h.joined[handle]; ok {
		delete(rooms, room)
	}
	h.removeMemberLocked(room, handle)
}

// MembersOf returns a snapshot of the connections currently in room.
func (h *Hub) MembersOf(room string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	conns := make([]Conn, 0, len(members))
	for id := range members {
		if c, ok := h.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// RoomsOf returns the rooms the connection belongs to.
func (h *Hub) RoomsOf(handle string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.joined[handle]))
	for room := range h.joined[handle] {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) removeMemberLocked(room, handle string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, handle)
	if len(members) == 0 {
		delete(h.rooms, room)
		h.log.Debug("room removed", zap.String("room", room))
	}
}
