package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Client-facing error texts.
const (
	msgInvalidJSON    = "Invalid JSON format"
	msgRateLimited    = "Rate limit exceeded, slow down"
	msgSessionFull    = "Session is full"
	msgInternalServer = "Internal server error"
)
