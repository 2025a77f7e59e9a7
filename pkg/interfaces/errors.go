package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrRoomNotFound        = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrRoomExists          = errors.New("session already exists")
)
