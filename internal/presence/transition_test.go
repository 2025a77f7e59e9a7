package presence

import (
	"testing"
	"time"

	"locationshare/pkg/types"
)

const testRoom = "3f2b8c2e-4a8e-4b67-9a53-8d5c2f3b1a11"

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sig(kind types.SignalKind, mutate ...func(*types.Signal)) *types.Signal {
	s := &types.Signal{Kind: kind, Type: kind.String(), ParticipantID: "alice"}
	for _, m := range mutate {
		m(s)
	}
	return s
}

func withPosition(lat, lon float64) func(*types.Signal) {
	return func(s *types.Signal) {
		s.Latitude, s.Longitude = types.Float(lat), types.Float(lon)
		s.Accuracy = types.Float(5)
	}
}

func sharingRecord() *types.Participant {
	p := types.NewParticipant(testRoom, "alice", t0)
	p.Status = types.StatusSharing
	p.IsOnline = true
	p.Latitude, p.Longitude = types.Float(35), types.Float(139)
	return p
}

func TestTransition_Join(t *testing.T) {
	tests := []struct {
		name       string
		signal     *types.Signal
		wantStatus types.Status
	}{
		{"plain join waits", sig(types.SignalJoin), types.StatusWaiting},
		{"sharing join", sig(types.SignalJoin, func(s *types.Signal) { s.IsSharing = true }), types.StatusSharing},
		{"cached resume", sig(types.SignalJoin, func(s *types.Signal) {
			s.HasCachedPosition = true
			s.InitialStatus = types.StatusSharing
		}), types.StatusSharing},
		{"cached but waiting", sig(types.SignalJoin, func(s *types.Signal) {
			s.HasCachedPosition = true
			s.InitialStatus = types.StatusWaiting
		}), types.StatusWaiting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Transition(nil, testRoom, "alice", tt.signal, t0)
			if !res.Created || res.Next == nil {
				t.Fatalf("join on empty state should create a record: %+v", res)
			}
			if res.Next.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Next.Status, tt.wantStatus)
			}
			if !res.Next.IsOnline || !res.Next.IsActive {
				t.Errorf("join must mark online and active: %+v", res.Next)
			}
			if res.Next.HasPosition() {
				t.Error("join must not invent a position")
			}
		})
	}
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name         string
		signal       *types.Signal
		wantStatus   types.Status
		wantOnline   bool
		wantActive   bool
		wantPosition bool
	}{
		{"location_update", sig(types.SignalLocationUpdate, withPosition(36, 140)), types.StatusSharing, true, true, true},
		{"stop_sharing", sig(types.SignalStopSharing), types.StatusWaiting, true, true, false},
		{"confirm_stop_sharing", sig(types.SignalConfirmStopSharing), types.StatusWaiting, true, true, false},
		{"sync_status sharing", sig(types.SignalSyncStatus, func(s *types.Signal) { s.IsSharing = true }), types.StatusSharing, true, true, true},
		{"sync_status waiting", sig(types.SignalSyncStatus), types.StatusWaiting, true, true, false},
		{"background", sig(types.SignalBackgroundStatusUpdate, func(s *types.Signal) { s.IsBackground = true }), types.StatusSharing, true, true, true},
		{"offline", sig(types.SignalOffline), types.StatusStopped, false, true, false},
		{"disconnect", types.NewDisconnectSignal("alice"), types.StatusStopped, false, true, false},
		{"ping", sig(types.SignalPing), types.StatusSharing, true, true, true},
		{"leave", sig(types.SignalLeave), types.StatusStopped, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := sharingRecord()
			res := Transition(current, testRoom, "alice", tt.signal, t0.Add(time.Minute))
			next := res.Next
			if next == nil {
				t.Fatal("expected a write")
			}
			if next.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", next.Status, tt.wantStatus)
			}
			if next.IsOnline != tt.wantOnline {
				t.Errorf("is_online = %v, want %v", next.IsOnline, tt.wantOnline)
			}
			if next.IsActive != tt.wantActive {
				t.Errorf("is_active = %v, want %v", next.IsActive, tt.wantActive)
			}
			if next.HasPosition() != tt.wantPosition {
				t.Errorf("has position = %v, want %v", next.HasPosition(), tt.wantPosition)
			}
			if err := next.Validate(); err != nil {
				t.Errorf("next record violates invariants: %v", err)
			}
			if !next.LastUpdated.Equal(t0.Add(time.Minute)) {
				t.Errorf("last_updated not stamped: %v", next.LastUpdated)
			}
			if *current.Latitude != 35 || current.Status != types.StatusSharing {
				t.Error("Transition mutated its input")
			}
		})
	}
}

func TestTransition_BackgroundKeepsStatusAndPosition(t *testing.T) {
	current := sharingRecord()
	res := Transition(current, testRoom, "alice", sig(types.SignalBackgroundStatusUpdate, func(s *types.Signal) { s.IsBackground = true }), t0)
	if !res.Next.IsBackground {
		t.Error("background flag not set")
	}
	if *res.Next.Latitude != 35 || *res.Next.Longitude != 139 {
		t.Error("background update altered position")
	}
}

func TestTransition_LocationUpdateReplacesPosition(t *testing.T) {
	current := sharingRecord()
	current.Altitude = types.Float(12)
	res := Transition(current, testRoom, "alice", sig(types.SignalLocationUpdate, withPosition(36, 140)), t0)
	if *res.Next.Latitude != 36 || *res.Next.Longitude != 140 || *res.Next.Accuracy != 5 {
		t.Errorf("position = %+v", res.Next.Position)
	}
	if res.Next.Altitude != nil {
		t.Error("fields missing from the update must be cleared")
	}
}

func TestTransition_NoRecordForNonCreatingSignals(t *testing.T) {
	for _, kind := range []types.SignalKind{
		types.SignalStopSharing,
		types.SignalConfirmStopSharing,
		types.SignalBackgroundStatusUpdate,
		types.SignalOffline,
		types.SignalPing,
		types.SignalLeave,
		types.SignalDisconnect,
		types.SignalNotification,
	} {
		if res := Transition(nil, testRoom, "alice", sig(kind), t0); res.Changed() {
			t.Errorf("%s created a record", kind)
		}
	}
	if res := Transition(nil, testRoom, "alice", sig(types.SignalSyncStatus), t0); res.Changed() {
		t.Error("sync_status(waiting) created a record")
	}
	if res := Transition(nil, testRoom, "alice", sig(types.SignalSyncStatus, func(s *types.Signal) { s.IsSharing = true }), t0); !res.Created {
		t.Error("sync_status(sharing) should create a record")
	}
}

func TestTransition_NotificationAndUnknownAreNoOps(t *testing.T) {
	current := sharingRecord()
	for _, kind := range []types.SignalKind{types.SignalNotification, types.SignalUnknown} {
		if res := Transition(current, testRoom, "alice", sig(kind), t0); res.Changed() {
			t.Errorf("%s produced a write", kind)
		}
	}
}

func TestTransition_Idempotent(t *testing.T) {
	signals := []*types.Signal{
		sig(types.SignalJoin, func(s *types.Signal) { s.IsSharing = true }),
		sig(types.SignalLocationUpdate, withPosition(35, 139)),
		sig(types.SignalStopSharing),
		sig(types.SignalSyncStatus, func(s *types.Signal) { s.IsSharing = true; s.IsBackground = true }),
		sig(types.SignalNameUpdate, func(s *types.Signal) { s.ParticipantName = "Alice" }),
		sig(types.SignalBackgroundStatusUpdate, func(s *types.Signal) { s.IsBackground = true }),
		sig(types.SignalOffline),
		sig(types.SignalPing),
		sig(types.SignalLeave),
		types.NewDisconnectSignal("alice"),
	}
	for _, s := range signals {
		t.Run(s.Kind.String(), func(t *testing.T) {
			once := Transition(sharingRecord(), testRoom, "alice", s, t0).Next
			twice := Transition(once, testRoom, "alice", s, t0).Next
			if !sameState(once, twice) {
				t.Errorf("replay diverged:\n once  %+v\n twice %+v", once, twice)
			}
		})
	}
}

func TestTransition_OnlyLeaveDeactivates(t *testing.T) {
	for kind := types.SignalJoin; kind <= types.SignalDisconnect; kind++ {
		res := Transition(sharingRecord(), testRoom, "alice", sig(kind, withPosition(1, 1)), t0)
		if res.Next == nil {
			continue
		}
		if !res.Next.IsActive && kind != types.SignalLeave {
			t.Errorf("%s cleared is_active", kind)
		}
	}
}

func TestTransition_RejoinAfterLeaveReactivates(t *testing.T) {
	left := Transition(sharingRecord(), testRoom, "alice", sig(types.SignalLeave), t0).Next
	res := Transition(left, testRoom, "alice", sig(types.SignalJoin), t0.Add(time.Second))
	if !res.Reactivated || res.Created {
		t.Errorf("rejoin result = %+v", res)
	}
	if !res.Next.IsActive {
		t.Error("rejoin must restore roster membership")
	}
	if !res.Next.JoinedAt.Equal(t0) {
		t.Error("rejoin must keep the original joined_at")
	}
}

func TestTransition_NameHandling(t *testing.T) {
	current := sharingRecord()
	current.Name = "Alice"
	res := Transition(current, testRoom, "alice", sig(types.SignalNameUpdate), t0)
	if res.Next.Name != "Alice" {
		t.Error("empty participant_name must not erase the stored name")
	}
	res = Transition(current, testRoom, "alice", sig(types.SignalNameUpdate, func(s *types.Signal) { s.ParticipantName = "Ali" }), t0)
	if res.Next.Name != "Ali" || res.Next.Status != types.StatusSharing {
		t.Errorf("name_update = %+v", res.Next)
	}
}

func TestAddsRosterMember(t *testing.T) {
	active := sharingRecord()
	left := sharingRecord()
	left.IsActive = false
	left.ClearPosition()
	left.Status = types.StatusStopped

	tests := []struct {
		name    string
		current *types.Participant
		signal  *types.Signal
		want    bool
	}{
		{"new join", nil, sig(types.SignalJoin), true},
		{"new ping", nil, sig(types.SignalPing), false},
		{"active join", active, sig(types.SignalJoin), false},
		{"rejoin", left, sig(types.SignalJoin), true},
		{"left then offline", left, sig(types.SignalOffline), false},
	}
	for _, tt := range tests {
		if got := AddsRosterMember(tt.current, tt.signal); got != tt.want {
			t.Errorf("%s: AddsRosterMember = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func sameState(a, b *types.Participant) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Status == b.Status &&
		a.IsOnline == b.IsOnline &&
		a.IsActive == b.IsActive &&
		a.IsBackground == b.IsBackground &&
		a.Name == b.Name &&
		sameFloat(a.Latitude, b.Latitude) &&
		sameFloat(a.Longitude, b.Longitude) &&
		sameFloat(a.Accuracy, b.Accuracy) &&
		a.LastUpdated.Equal(b.LastUpdated)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
