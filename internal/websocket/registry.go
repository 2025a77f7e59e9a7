package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"

	"locationshare/pkg/interfaces"
)

// Registry tracks the live connections of this process grouped by room.
type Registry struct {
	rooms map[string]map[string]interfaces.Connection // roomID -> connID -> connection
	byID  map[string]interfaces.Connection
	mu    sync.RWMutex
}

var _ interfaces.ConnectionRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]interfaces.Connection),
		byID:  make(map[string]interfaces.Connection),
	}
}

// RegisterConnection adds conn to its room. Re-registering the same id
// replaces the previous entry.
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	roomID := conn.GetRoomID()
	if roomID == "" {
		return ErrMissingRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[roomID]
	if !ok {
		conns = make(map[string]interfaces.Connection)
		r.rooms[roomID] = conns
	}
	conns[conn.GetID()] = conn
	r.byID[conn.GetID()] = conn

	log.Debug().Str("module", "websocket").Str("session_id", roomID).Str("conn_id", conn.GetID()).Int("room_connections", len(conns)).Msg("connection registered")
	return nil
}

// UnregisterConnection removes the connection. Unknown ids are ignored.
func (r *Registry) UnregisterConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
}

// ReleaseConnection removes conn and counts the sockets still bound to its
// participant under the same lock, so of several sockets closing together
// exactly one sees zero.
func (r *Registry) ReleaseConnection(conn interfaces.Connection) int {
	if conn == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(conn.GetID())

	pid := conn.GetParticipantID()
	if pid == "" {
		return 0
	}
	n := 0
	for _, c := range r.rooms[conn.GetRoomID()] {
		if c.GetParticipantID() == pid {
			n++
		}
	}
	return n
}

// CloseAll closes every registered socket and returns how many it closed.
// The read loops observe the close and run their own disconnect handling.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

func (r *Registry) removeLocked(connID string) {
	conn, ok := r.byID[connID]
	if !ok {
		return
	}
	delete(r.byID, connID)

	roomID := conn.GetRoomID()
	if conns, ok := r.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// GetRoomConnections returns a snapshot; callers fan out without the lock.
func (r *Registry) GetRoomConnections(roomID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.rooms[roomID]
	out := make([]interfaces.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ParticipantConnections(roomID, participantID string) int {
	if participantID == "" {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.rooms[roomID] {
		if c.GetParticipantID() == participantID {
			n++
		}
	}
	return n
}

func (r *Registry) GetConnection(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[connID]
	return c, ok
}

// GetStats reports connection counts for the health endpoint.
func (r *Registry) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]interface{}{
		"total_connections": len(r.byID),
		"active_sessions":   len(r.rooms),
	}
}
