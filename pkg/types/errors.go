package types

import "errors"

// ARCHITECTURAL DISCOVERY: Sentinel errors let the router map validation
// failures to a client error reply with errors.Is
var (
	ErrInvalidParticipantID   = errors.New("participant ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID          = errors.New("session ID must be a canonical UUID")
	ErrInvalidName            = errors.New("participant name must be at most 100 characters")
	ErrInvalidLatitude        = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude       = errors.New("longitude must be between -180 and 180")
	ErrMissingCoordinates     = errors.New("location update requires latitude and longitude")
	ErrInvalidStatus          = errors.New("status must be waiting, sharing or stopped")
	ErrInvalidNotification    = errors.New("notification message must be 1-500 characters")
	ErrInvalidDuration        = errors.New("duration must be one of 15, 30, 60, 120, 240, 480, 720 minutes")
	ErrInvalidMaxParticipants = errors.New("max participants must be between 1 and 500")
	ErrMalformedSignal        = errors.New("invalid JSON format")
	ErrPositionInvariant      = errors.New("position must be empty unless status is sharing")
)
