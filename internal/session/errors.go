package session

import "errors"

var (
	ErrSessionExpired = errors.New("session has expired")
	ErrInvalidRoomID  = errors.New("invalid session ID format")
)
