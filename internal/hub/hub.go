// Package hub keeps the registry of live connections and the room membership
// mapping used to resolve event targets.
package hub

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Conn.Send once the connection has been closed.
var ErrClosed = errors.New("hub: connection closed")

// Conn is a live duplex channel to a client.
type Conn interface {
	// ID uniquely identifies the connection and is its registry handle.
	ID() string
	// UserID is the authenticated user, or empty for anonymous connections.
	UserID() string
	// Send queues data without blocking. An error means the connection is dead.
	Send(data []byte) error
	Close() error
}

// Hub is the connection registry and the room membership manager. Both share
// one lock so that unregistering a connection and purging its rooms is atomic
// with respect to target resolution.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	rooms  map[string]map[string]struct{} // room -> conn ids
	joined map[string]map[string]struct{} // conn id -> rooms
	log    *zap.Logger
}

// New creates an empty Hub.
func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		log:    log,
	}
}

// Register adds conn to the registry and returns its handle.
func (h *Hub) Register(conn Conn) string {
	id := conn.ID()

	h.mu.Lock()
	h.conns[id] = conn
	if h.joined[id] == nil {
		h.joined[id] = make(map[string]struct{})
	}
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Info("connection registered",
		zap.String("conn", id),
		zap.String("user", conn.UserID()),
		zap.Int("connections", total))
	return id
}

// Unregister removes the connection and its memberships. Rooms left without
// members are dropped. Unknown handles are ignored. The removed connection is
// returned so callers can close it.
func (h *Hub) Unregister(handle string) (Conn, bool) {
	h.mu.Lock()
	conn, ok := h.conns[handle]
	if !ok {
		h.mu.Unlock()
		return nil, false
	}

	delete(h.conns, handle)
	for room := range h.joined[handle] {
		h.removeMemberLocked(room, handle)
	}
	delete(h.joined, handle)
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Info("connection unregistered",
		zap.String("conn", handle),
		zap.Int("connections", total))
	return conn, true
}

// IsLive reports whether handle is currently registered.
func (h *Hub) IsLive(handle string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[handle]
	return ok
}

// Connections returns a snapshot of every registered connection.
func (h *Hub) Connections() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Stats returns the number of non-empty rooms and registered connections.
func (h *Hub) Stats() (rooms, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}

// CloseAll unregisters and closes every connection.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]Conn)
	h.rooms = make(map[string]map[string]struct{})
	h.joined = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			h.log.Debug("close on shutdown", zap.String("conn", c.ID()), zap.Error(err))
		}
	}
	h.log.Info("closed all connections", zap.Int("count", len(conns)))
	return len(conns)
}
