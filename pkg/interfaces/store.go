package interfaces

import (
	"context"
	"time"

	"locationshare/pkg/types"
)

// MutateFunc computes the next state of a participant record from its
// current state. current is nil when no record exists. Returning a nil
// record leaves storage untouched.
type MutateFunc func(current *types.Participant) (*types.Participant, error)

// Store is the durable record of rooms and participant presence
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// lets the sqlite and bbolt backends be swapped without touching callers
type Store interface {
	// CreateRoom persists a new room. Rooms are immutable afterwards.
	CreateRoom(ctx context.Context, room *types.Room) error

	// GetRoom returns ErrRoomNotFound when the id is unknown.
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)

	// ListRooms returns active rooms whose expiry is after the given instant.
	ListRooms(ctx context.Context, unexpiredAt time.Time) ([]*types.Room, error)

	GetParticipant(ctx context.Context, roomID, participantID string) (*types.Participant, error)

	// MutateParticipant runs fn and writes its result as one atomic
	// read-modify-write for (roomID, participantID)
	// FUNCTIONAL DISCOVERY: Two racing signals for the same participant
	// never interleave into a partial record
	MutateParticipant(ctx context.Context, roomID, participantID string, fn MutateFunc) (*types.Participant, error)

	// ListActiveParticipants returns the roster, most recently updated first.
	ListActiveParticipants(ctx context.Context, roomID string) ([]*types.Participant, error)

	CountActiveParticipants(ctx context.Context, roomID string) (int, error)

	HealthCheck(ctx context.Context) error

	Close() error
}
