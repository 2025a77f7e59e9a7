package types

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for the per-frame validation path
var participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	maxNameLength         = 100
	maxNotificationLength = 500
	maxParticipantsLimit  = 500
)

// IsValidParticipantID checks if a participant ID meets format requirements.
func IsValidParticipantID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return participantIDRegex.MatchString(id)
}

// IsValidRoomID accepts the canonical hyphenated UUID form only.
func IsValidRoomID(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.String() == strings.ToLower(id)
}

// IsValidDuration checks minutes against AllowedDurations.
func IsValidDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// IsValidMaxParticipants bounds the per-room roster size.
func IsValidMaxParticipants(n int) bool {
	return n >= 1 && n <= maxParticipantsLimit
}

// Validate checks the room's creation parameters.
func (r *Room) Validate() error {
	if !IsValidRoomID(r.ID) {
		return ErrInvalidRoomID
	}
	if !IsValidDuration(r.DurationMinutes) {
		return ErrInvalidDuration
	}
	if !IsValidMaxParticipants(r.MaxParticipants) {
		return ErrInvalidMaxParticipants
	}
	return nil
}

// Validate checks a record before it is persisted.
func (p *Participant) Validate() error {
	if !IsValidParticipantID(p.ParticipantID) {
		return ErrInvalidParticipantID
	}
	if !p.Status.Valid() {
		return ErrInvalidStatus
	}
	if p.Status != StatusSharing && p.Position != (Position{}) {
		return ErrPositionInvariant
	}
	return nil
}

// Validate checks an attributed signal's fields. ParticipantID must already
// reflect the connection's bound identity. A ping may omit it.
func (s *Signal) Validate() error {
	if s.Kind == SignalPing {
		if s.ParticipantID != "" && !IsValidParticipantID(s.ParticipantID) {
			return ErrInvalidParticipantID
		}
		return nil
	}
	if !IsValidParticipantID(s.ParticipantID) {
		return ErrInvalidParticipantID
	}
	if utf8.RuneCountInString(s.ParticipantName) > maxNameLength {
		return ErrInvalidName
	}
	if s.Status != "" && !s.Status.Valid() {
		return ErrInvalidStatus
	}
	if s.InitialStatus != "" && !s.InitialStatus.Valid() {
		return ErrInvalidStatus
	}

	switch s.Kind {
	case SignalLocationUpdate:
		if s.Latitude == nil || s.Longitude == nil {
			return ErrMissingCoordinates
		}
		if *s.Latitude < -90 || *s.Latitude > 90 {
			return ErrInvalidLatitude
		}
		if *s.Longitude < -180 || *s.Longitude > 180 {
			return ErrInvalidLongitude
		}
	case SignalNotification:
		n := utf8.RuneCountInString(s.Message)
		if n < 1 || n > maxNotificationLength {
			return ErrInvalidNotification
		}
	}
	return nil
}
