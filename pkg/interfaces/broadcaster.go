package interfaces

import (
	"context"

	"locationshare/pkg/types"
)

// Broadcaster fans messages out to every connection registered for a room,
// including connections held by other processes when a shared bus is used.
type Broadcaster interface {
	// Broadcast delivers msg to every connection in the room, sender included.
	Broadcast(ctx context.Context, roomID string, msg types.Outbound) error

	// BroadcastOthers delivers msg to every connection not bound to
	// excludeParticipantID.
	BroadcastOthers(ctx context.Context, roomID, excludeParticipantID string, msg types.Outbound) error
}

// ConnectionRegistry tracks the live sockets of this process.
type ConnectionRegistry interface {
	RegisterConnection(conn Connection) error
	UnregisterConnection(connID string)
	GetRoomConnections(roomID string) []Connection
	// ParticipantConnections counts live sockets bound to participantID.
	ParticipantConnections(roomID, participantID string) int

	// ReleaseConnection removes conn and returns how many other sockets in
	// its room are still bound to its participant, as one atomic step.
	ReleaseConnection(conn Connection) int
}
