package types

import (
	"encoding/json"
	"fmt"
)

// Outbound message types written to clients.
const (
	MessageLocationUpdate         = "location_update"
	MessageBackgroundStatusChange = "background_status_change"
	MessageParticipantJoined      = "participant_joined"
	MessageParticipantOffline     = "participant_offline"
	MessageParticipantLeft        = "participant_left"
	MessagePong                   = "pong"
	MessageSessionExpired         = "session_expired"
	MessageError                  = "error"
	MessageNotification           = "notification"
)

// Outbound is the closed set of server-to-client messages. Only types in this
// package implement it.
type Outbound interface {
	MessageType() string
	outbound()
}

// LocationUpdate carries the full roster snapshot, most recently updated first.
type LocationUpdate struct {
	Locations []RosterEntry `json:"locations"`
}

// BackgroundStatusChange is a single-participant delta plus the full roster.
type BackgroundStatusChange struct {
	ParticipantID   string        `json:"participant_id"`
	ParticipantName string        `json:"participant_name"`
	IsBackground    bool          `json:"is_background"`
	Locations       []RosterEntry `json:"locations"`
}

// ParticipantEvent is a lightweight notice for one participant.
// Event must be one of MessageParticipantJoined, MessageParticipantOffline
// or MessageParticipantLeft.
type ParticipantEvent struct {
	Event           string `json:"-"`
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
}

// Pong echoes a ping's timestamp verbatim.
type Pong struct {
	Timestamp     json.RawMessage `json:"timestamp"`
	ParticipantID string          `json:"participant_id"`
}

type SessionExpired struct {
	Message string `json:"message"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Notification is a client-originated UX notice relayed to the room.
type Notification struct {
	ParticipantID    string          `json:"participant_id"`
	ParticipantName  string          `json:"participant_name"`
	Message          string          `json:"message"`
	NotificationType string          `json:"notification_type"`
	Icon             string          `json:"icon"`
	Timestamp        json.RawMessage `json:"timestamp"`
}

func (LocationUpdate) MessageType() string         { return MessageLocationUpdate }
func (BackgroundStatusChange) MessageType() string { return MessageBackgroundStatusChange }
func (e ParticipantEvent) MessageType() string     { return e.Event }
func (Pong) MessageType() string                   { return MessagePong }
func (SessionExpired) MessageType() string         { return MessageSessionExpired }
func (ErrorMessage) MessageType() string           { return MessageError }
func (Notification) MessageType() string           { return MessageNotification }

func (LocationUpdate) outbound()         {}
func (BackgroundStatusChange) outbound() {}
func (ParticipantEvent) outbound()       {}
func (Pong) outbound()                   {}
func (SessionExpired) outbound()         {}
func (ErrorMessage) outbound()           {}
func (Notification) outbound()           {}

// NewSessionExpired returns the reply sent when a signal hits an expired room.
func NewSessionExpired() SessionExpired {
	return SessionExpired{Message: "Session has expired"}
}

// NewErrorMessage returns a client-facing error reply.
func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Message: msg}
}

// EncodeOutbound renders msg with its "type" tag.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	var body any
	switch m := msg.(type) {
	case LocationUpdate:
		if m.Locations == nil {
			m.Locations = []RosterEntry{}
		}
		body = struct {
			Type string `json:"type"`
			LocationUpdate
		}{m.MessageType(), m}
	case BackgroundStatusChange:
		if m.Locations == nil {
			m.Locations = []RosterEntry{}
		}
		body = struct {
			Type string `json:"type"`
			BackgroundStatusChange
		}{m.MessageType(), m}
	case ParticipantEvent:
		if !isParticipantEvent(m.Event) {
			return nil, fmt.Errorf("unknown participant event %q", m.Event)
		}
		body = struct {
			Type string `json:"type"`
			ParticipantEvent
		}{m.Event, m}
	case Pong:
		if len(m.Timestamp) == 0 {
			m.Timestamp = json.RawMessage("null")
		}
		body = struct {
			Type string `json:"type"`
			Pong
		}{m.MessageType(), m}
	case SessionExpired:
		body = struct {
			Type string `json:"type"`
			SessionExpired
		}{m.MessageType(), m}
	case ErrorMessage:
		body = struct {
			Type string `json:"type"`
			ErrorMessage
		}{m.MessageType(), m}
	case Notification:
		if len(m.Timestamp) == 0 {
			m.Timestamp = json.RawMessage("null")
		}
		body = struct {
			Type string `json:"type"`
			Notification
		}{m.MessageType(), m}
	default:
		return nil, fmt.Errorf("unsupported outbound message %T", msg)
	}
	return json.Marshal(body)
}

// DecodeOutbound parses a server frame back into its variant.
func DecodeOutbound(data []byte) (Outbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var (
		out Outbound
		err error
	)
	switch head.Type {
	case MessageLocationUpdate:
		var m LocationUpdate
		err = json.Unmarshal(data, &m)
		out = m
	case MessageBackgroundStatusChange:
		var m BackgroundStatusChange
		err = json.Unmarshal(data, &m)
		out = m
	case MessageParticipantJoined, MessageParticipantOffline, MessageParticipantLeft:
		m := ParticipantEvent{Event: head.Type}
		err = json.Unmarshal(data, &m)
		out = m
	case MessagePong:
		var m Pong
		err = json.Unmarshal(data, &m)
		out = m
	case MessageSessionExpired:
		var m SessionExpired
		err = json.Unmarshal(data, &m)
		out = m
	case MessageError:
		var m ErrorMessage
		err = json.Unmarshal(data, &m)
		out = m
	case MessageNotification:
		var m Notification
		err = json.Unmarshal(data, &m)
		out = m
	default:
		return nil, fmt.Errorf("unknown outbound type %q", head.Type)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isParticipantEvent(event string) bool {
	switch event {
	case MessageParticipantJoined, MessageParticipantOffline, MessageParticipantLeft:
		return true
	default:
		return false
	}
}
