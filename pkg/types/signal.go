package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SignalKind enumerates inbound client signals.
// ARCHITECTURAL DISCOVERY: SignalUnknown is the explicit default arm for
// unrecognised wire types; SignalDisconnect is raised by the transport only
// and can never be decoded from a client frame
type SignalKind int

const (
	SignalUnknown SignalKind = iota
	SignalJoin
	SignalLocationUpdate
	SignalStopSharing
	SignalConfirmStopSharing
	SignalSyncStatus
	SignalNameUpdate
	SignalBackgroundStatusUpdate
	SignalOffline
	SignalLeave
	SignalPing
	SignalNotification
	SignalDisconnect
)

var signalNames = map[SignalKind]string{
	SignalJoin:                   "join",
	SignalLocationUpdate:         "location_update",
	SignalStopSharing:            "stop_sharing",
	SignalConfirmStopSharing:     "confirm_stop_sharing",
	SignalSyncStatus:             "sync_status",
	SignalNameUpdate:             "name_update",
	SignalBackgroundStatusUpdate: "background_status_update",
	SignalOffline:                "offline",
	SignalLeave:                  "leave",
	SignalPing:                   "ping",
	SignalNotification:           "notification",
	SignalDisconnect:             "disconnect",
}

var wireSignals = func() map[string]SignalKind {
	m := make(map[string]SignalKind, len(signalNames))
	for k, name := range signalNames {
		if k == SignalDisconnect {
			continue
		}
		m[name] = k
	}
	return m
}()

func (k SignalKind) String() string {
	if name, ok := signalNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseSignalKind maps a wire type to its kind. Unrecognised values,
// including "disconnect", yield SignalUnknown.
func ParseSignalKind(s string) SignalKind {
	if k, ok := wireSignals[s]; ok {
		return k
	}
	return SignalUnknown
}

// Signal is one decoded inbound frame.
type Signal struct {
	Kind SignalKind `json:"-"`

	Type              string          `json:"type"`
	ParticipantID     string          `json:"participant_id,omitempty"`
	ParticipantName   string          `json:"participant_name,omitempty"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	Accuracy          *float64        `json:"accuracy,omitempty"`
	Altitude          *float64        `json:"altitude,omitempty"`
	Heading           *float64        `json:"heading,omitempty"`
	Speed             *float64        `json:"speed,omitempty"`
	IsSharing         bool            `json:"is_sharing,omitempty"`
	IsBackground      bool            `json:"is_background,omitempty"`
	HasCachedPosition bool            `json:"has_cached_position,omitempty"`
	Status            Status          `json:"status,omitempty"`
	InitialStatus     Status          `json:"initial_status,omitempty"`
	Timestamp         json.RawMessage `json:"timestamp,omitempty"`

	Message          string `json:"message,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
	Icon             string `json:"icon,omitempty"`
	ExcludeSelf      bool   `json:"exclude_self,omitempty"`
}

// ParseSignal decodes a client frame. Invalid JSON, or JSON that is not an
// object, returns ErrMalformedSignal.
func ParseSignal(data []byte) (*Signal, error) {
	// json.Unmarshal accepts null into a struct as a no-op
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedSignal)
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	sig.Kind = ParseSignalKind(sig.Type)
	return &sig, nil
}

// NewDisconnectSignal builds the transport-raised signal for participantID.
func NewDisconnectSignal(participantID string) *Signal {
	return &Signal{
		Kind:          SignalDisconnect,
		Type:          SignalDisconnect.String(),
		ParticipantID: participantID,
	}
}

// Position returns the coordinates carried by the signal.
func (s *Signal) Position() Position {
	return Position{
		Latitude:  cloneFloat(s.Latitude),
		Longitude: cloneFloat(s.Longitude),
		Accuracy:  cloneFloat(s.Accuracy),
		Altitude:  cloneFloat(s.Altitude),
		Heading:   cloneFloat(s.Heading),
		Speed:     cloneFloat(s.Speed),
	}
}

// WantsSharing applies the join rule: share when the client says so, or when
// it resumes with a cached fix and declared sharing status.
func (s *Signal) WantsSharing() bool {
	return s.IsSharing || (s.HasCachedPosition && s.InitialStatus == StatusSharing)
}
