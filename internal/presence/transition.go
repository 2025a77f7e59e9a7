// Package presence computes participant state transitions and applies them
// through the session store.
package presence

import (
	"time"

	"locationshare/pkg/types"
)

// Result describes the outcome of applying one signal.
type Result struct {
	// Next is the record to persist, or nil when the signal does not touch
	// storage.
	Next *types.Participant

	// Created is set when the signal introduced a participant id.
	Created bool

	// Reactivated is set when a participant who had left rejoined.
	Reactivated bool
}

// Changed reports whether the result must be written.
func (r Result) Changed() bool {
	return r.Next != nil
}

// Transition computes the next participant record for sig. It never mutates
// current. A nil current means no record exists yet; only join,
// location_update, name_update and sync_status(is_sharing) create one.
//
// Every arm is idempotent apart from the last_updated stamp: replaying a
// signal yields the same status, position and flags.
func Transition(current *types.Participant, roomID, participantID string, sig *types.Signal, now time.Time) Result {
	now = now.UTC()

	var next *types.Participant
	created := false
	if current == nil {
		if !createsRecord(sig) {
			return Result{}
		}
		next = types.NewParticipant(roomID, participantID, now)
		created = true
	} else {
		next = current.Clone()
	}
	reactivated := !created && !next.IsActive

	switch sig.Kind {
	case types.SignalJoin:
		next.IsActive = true
		next.IsOnline = true
		if sig.WantsSharing() {
			next.Status = types.StatusSharing
		} else {
			next.Status = types.StatusWaiting
			next.ClearPosition()
		}
		applyName(next, sig)

	case types.SignalLocationUpdate:
		next.IsActive = true
		next.IsOnline = true
		next.Status = types.StatusSharing
		next.Position = sig.Position()
		next.IsBackground = sig.IsBackground
		applyName(next, sig)

	case types.SignalStopSharing, types.SignalConfirmStopSharing:
		next.Status = types.StatusWaiting
		next.ClearPosition()
		next.IsOnline = true

	case types.SignalSyncStatus:
		if sig.IsSharing {
			next.IsActive = true
			next.Status = types.StatusSharing
		} else {
			next.Status = types.StatusWaiting
			next.ClearPosition()
		}
		next.IsOnline = true
		next.IsBackground = sig.IsBackground
		applyName(next, sig)

	case types.SignalNameUpdate:
		next.IsActive = true
		next.IsOnline = true
		applyName(next, sig)

	case types.SignalBackgroundStatusUpdate:
		next.IsBackground = sig.IsBackground

	case types.SignalOffline, types.SignalDisconnect:
		next.Status = types.StatusStopped
		next.ClearPosition()
		next.IsOnline = false

	case types.SignalPing:
		next.IsOnline = true

	case types.SignalLeave:
		next.Status = types.StatusStopped
		next.ClearPosition()
		next.IsOnline = false
		next.IsActive = false

	default:
		// notification and unknown kinds never touch the record
		return Result{}
	}

	next.LastUpdated = now
	return Result{
		Next:        next,
		Created:     created,
		Reactivated: reactivated && next.IsActive,
	}
}

func createsRecord(sig *types.Signal) bool {
	switch sig.Kind {
	case types.SignalJoin, types.SignalLocationUpdate, types.SignalNameUpdate:
		return true
	case types.SignalSyncStatus:
		return sig.IsSharing
	default:
		return false
	}
}

func applyName(p *types.Participant, sig *types.Signal) {
	if sig.ParticipantName != "" {
		p.Name = sig.ParticipantName
	}
}

// AddsRosterMember reports whether applying sig to current would put a new
// member on the room's roster.
func AddsRosterMember(current *types.Participant, sig *types.Signal) bool {
	if current != nil && current.IsActive {
		return false
	}
	return createsRecord(sig)
}
