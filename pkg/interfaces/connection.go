package interfaces

// Connection represents one client socket bound to a room
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details so the
// router and broadcaster can be tested with in-memory fakes
type Connection interface {
	// GetID returns the process-unique connection id.
	GetID() string

	GetRoomID() string

	// GetParticipantID returns the bound participant, or "" before join.
	GetParticipantID() string

	// BindParticipant binds the socket to id on first call and returns the
	// bound id. Later calls leave the binding unchanged.
	BindParticipant(id string) string

	// UnbindParticipant clears the binding so the disconnect path skips it.
	UnbindParticipant()

	// Send queues an encoded frame without blocking. A full queue drops its
	// oldest frame.
	Send(data []byte) error

	// SendJSON queues v as JSON without blocking.
	SendJSON(v interface{}) error

	Close() error
}
