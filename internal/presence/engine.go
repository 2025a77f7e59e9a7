package presence

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

// ErrRoomFull is returned when a signal would grow the roster past the
// room's max participants.
var ErrRoomFull = errors.New("session has reached its participant limit")

// Outcome is the persisted effect of one applied signal.
type Outcome struct {
	Result
	// Record is the participant after the signal, or the untouched record
	// when nothing was written. Nil when no record exists.
	Record *types.Participant
}

// Engine applies transitions through the store, one atomic read-modify-write
// per (room, participant).
type Engine struct {
	store interfaces.Store
	now   func() time.Time
}

func NewEngine(store interfaces.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Apply runs sig for participantID in room. The roster-size bound is checked
// against a count taken before the write, so two simultaneous joins may
// both pass when the room is one short of full.
func (e *Engine) Apply(ctx context.Context, room *types.Room, participantID string, sig *types.Signal) (Outcome, error) {
	active := -1
	if room.MaxParticipants > 0 && createsRecord(sig) {
		n, err := e.store.CountActiveParticipants(ctx, room.ID)
		if err != nil {
			return Outcome{}, err
		}
		active = n
	}

	now := e.now()
	var result Result
	record, err := e.store.MutateParticipant(ctx, room.ID, participantID, func(current *types.Participant) (*types.Participant, error) {
		if active >= room.MaxParticipants && AddsRosterMember(current, sig) {
			return nil, ErrRoomFull
		}
		result = Transition(current, room.ID, participantID, sig, now)
		return result.Next, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	log.Debug().
		Str("module", "presence").
		Str("session_id", room.ID).
		Str("participant_id", participantID).
		Str("signal", sig.Kind.String()).
		Bool("changed", result.Changed()).
		Msg("signal applied")

	return Outcome{Result: result, Record: record}, nil
}

// Roster returns the room's current roster snapshot in wire form.
func (e *Engine) Roster(ctx context.Context, roomID string) ([]types.RosterEntry, error) {
	participants, err := e.store.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return types.Roster(participants), nil
}

// DisplayName returns the stored name for participantID, or its derived label.
func (e *Engine) DisplayName(ctx context.Context, roomID, participantID string) string {
	p, err := e.store.GetParticipant(ctx, roomID, participantID)
	if err != nil {
		return types.DefaultDisplayName(participantID)
	}
	return p.DisplayName()
}
