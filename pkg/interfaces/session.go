package interfaces

import (
	"context"

	"locationshare/pkg/types"
)

// SessionManager owns room lifecycle and the expiry guard.
type SessionManager interface {
	// CreateRoom creates a room with the given duration in minutes.
	CreateRoom(ctx context.Context, durationMinutes, maxParticipants int) (*types.Room, error)

	GetRoom(ctx context.Context, roomID string) (*types.Room, error)

	// RoomExists checks existence only; expired rooms still exist.
	RoomExists(ctx context.Context, roomID string) bool

	// CheckActive returns the room when it exists and has not expired.
	CheckActive(ctx context.Context, roomID string) (*types.Room, error)

	ListActiveRooms(ctx context.Context) ([]*types.Room, error)
}
