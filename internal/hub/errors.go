package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrUnknownBackend    = errors.New("unknown broadcast backend")
	ErrBusClosed         = errors.New("bus is closed")
	ErrMissingRoom       = errors.New("envelope has no session id")
)
