package types

import (
	"time"
)

// Status is a participant's presence status within a room.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusSharing Status = "sharing"
	StatusStopped Status = "stopped"
)

// Valid reports whether s is one of the three presence statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusSharing, StatusStopped:
		return true
	default:
		return false
	}
}

// Room durations accepted at creation time, in minutes.
var AllowedDurations = []int{15, 30, 60, 120, 240, 480, 720}

const (
	DefaultDurationMinutes = 30
	DefaultMaxParticipants = 50
)

// Room represents a time-boxed sharing session
// ARCHITECTURAL DISCOVERY: ExpiresAt is written once at creation; expiry is
// derived from the clock, never stored as a state change
type Room struct {
	ID              string    `json:"session_id"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	IsActive        bool      `json:"is_active"`
	MaxParticipants int       `json:"max_participants"`
}

// IsExpired reports whether now is past the room's expiry.
func (r *Room) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Remaining returns the time left before expiry, floored at zero.
func (r *Room) Remaining(now time.Time) time.Duration {
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Position holds the last reported fix. Every field is independently nullable.
type Position struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Heading   *float64 `json:"heading"`
	Speed     *float64 `json:"speed"`
}

// Participant is the persisted presence record keyed by (RoomID, ParticipantID)
// FUNCTIONAL DISCOVERY: a status other than sharing always carries an empty
// Position; Validate enforces this before every write
type Participant struct {
	RoomID        string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"participant_name"`
	Position
	Status       Status    `json:"status"`
	IsOnline     bool      `json:"is_online"`
	IsBackground bool      `json:"is_background"`
	IsActive     bool      `json:"is_active"`
	JoinedAt     time.Time `json:"joined_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NewParticipant returns a fresh roster member in the waiting state.
func NewParticipant(roomID, participantID string, now time.Time) *Participant {
	return &Participant{
		RoomID:        roomID,
		ParticipantID: participantID,
		Status:        StatusWaiting,
		IsActive:      true,
		JoinedAt:      now,
		LastUpdated:   now,
	}
}

// DisplayName returns the participant's name or a label derived from the id.
func (p *Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return DefaultDisplayName(p.ParticipantID)
}

// DefaultDisplayName derives a label from the first eight characters of id.
func DefaultDisplayName(participantID string) string {
	short := participantID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Participant " + short
}

// HasPosition reports whether both coordinates are set.
func (p *Participant) HasPosition() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// ClearPosition nulls every position field.
func (p *Participant) ClearPosition() {
	p.Position = Position{}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	c.Position = Position{
		Latitude:  cloneFloat(p.Latitude),
		Longitude: cloneFloat(p.Longitude),
		Accuracy:  cloneFloat(p.Accuracy),
		Altitude:  cloneFloat(p.Altitude),
		Heading:   cloneFloat(p.Heading),
		Speed:     cloneFloat(p.Speed),
	}
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// RosterEntry is the wire form of one participant inside a roster broadcast.
type RosterEntry struct {
	ParticipantID   string   `json:"participant_id"`
	ParticipantName string   `json:"participant_name"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	Accuracy        *float64 `json:"accuracy"`
	Altitude        *float64 `json:"altitude"`
	Heading         *float64 `json:"heading"`
	Speed           *float64 `json:"speed"`
	LastUpdated     string   `json:"last_updated"`
	IsBackground    bool     `json:"is_background"`
	IsOnline        bool     `json:"is_online"`
	Status          Status   `json:"status"`
}

// Entry converts the record into its roster wire form.
func (p *Participant) Entry() RosterEntry {
	return RosterEntry{
		ParticipantID:   p.ParticipantID,
		ParticipantName: p.DisplayName(),
		Latitude:        p.Latitude,
		Longitude:       p.Longitude,
		Accuracy:        p.Accuracy,
		Altitude:        p.Altitude,
		Heading:         p.Heading,
		Speed:           p.Speed,
		LastUpdated:     p.LastUpdated.UTC().Format(time.RFC3339Nano),
		IsBackground:    p.IsBackground,
		IsOnline:        p.IsOnline,
		Status:          p.Status,
	}
}

// Roster converts stored participants into the broadcast list, preserving order.
func Roster(participants []*Participant) []RosterEntry {
	out := make([]RosterEntry, 0, len(participants))
	for _, p := range participants {
		out = append(out, p.Entry())
	}
	return out
}
