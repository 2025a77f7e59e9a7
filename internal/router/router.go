// Package router turns inbound socket frames into presence transitions and
// room broadcasts.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"locationshare/internal/presence"
	"locationshare/internal/session"
	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

// Limits caps how fast one connection may submit signals.
type Limits struct {
	SignalsPerSecond float64
	Burst            int
}

// Router implements websocket.SignalHandler
// ARCHITECTURAL DISCOVERY: The router owns attribution, the expiry gate and
// the choice of broadcast; the presence engine owns state
type Router struct {
	sessions    interfaces.SessionManager
	engine      *presence.Engine
	broadcaster interfaces.Broadcaster
	registry    interfaces.ConnectionRegistry
	limiter     *RateLimiter
}

func NewRouter(sessions interfaces.SessionManager, engine *presence.Engine, broadcaster interfaces.Broadcaster, registry interfaces.ConnectionRegistry, limits Limits) *Router {
	return &Router{
		sessions:    sessions,
		engine:      engine,
		broadcaster: broadcaster,
		registry:    registry,
		limiter:     NewRateLimiter(limits.SignalsPerSecond, limits.Burst),
	}
}

// closeAfterFlusher is implemented by connections that can drain their send
// queue before closing.
type closeAfterFlusher interface {
	CloseAfterFlush()
}

// HandleMessage processes one inbound frame from conn.
func (r *Router) HandleMessage(ctx context.Context, conn interfaces.Connection, data []byte) {
	if !r.limiter.Allow(conn.GetID()) {
		r.reply(conn, types.NewErrorMessage(msgRateLimited))
		return
	}

	sig, err := types.ParseSignal(data)
	if err != nil {
		r.reply(conn, types.NewErrorMessage(msgInvalidJSON))
		return
	}
	if sig.Kind == types.SignalUnknown {
		log.Warn().Str("module", "router").Str("conn_id", conn.GetID()).Str("type", sig.Type).Msg("ignoring unknown signal type")
		return
	}

	// a bound socket speaks only for its own participant
	if bound := conn.GetParticipantID(); bound != "" {
		sig.ParticipantID = bound
	}
	if err := sig.Validate(); err != nil {
		r.reply(conn, types.NewErrorMessage(err.Error()))
		return
	}

	roomID := conn.GetRoomID()
	room, err := r.sessions.CheckActive(ctx, roomID)
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		r.reply(conn, types.NewSessionExpired())
		return
	case errors.Is(err, interfaces.ErrRoomNotFound):
		log.Warn().Str("module", "router").Str("session_id", roomID).Msg("session vanished, dropping signal")
		return
	case err != nil:
		log.Error().Str("module", "router").Str("session_id", roomID).Err(err).Msg("session lookup failed")
		r.reply(conn, types.NewErrorMessage(msgInternalServer))
		return
	}

	pid := sig.ParticipantID

	switch sig.Kind {
	case types.SignalNotification:
		r.relayNotification(ctx, conn, room, sig)
		return
	case types.SignalPing:
		if pid != "" {
			if _, err := r.engine.Apply(ctx, room, pid, sig); err != nil {
				r.handleApplyError(conn, room.ID, pid, err)
				return
			}
		}
		r.reply(conn, types.Pong{Timestamp: sig.Timestamp, ParticipantID: pid})
		return
	}

	outcome, err := r.engine.Apply(ctx, room, pid, sig)
	if err != nil {
		r.handleApplyError(conn, room.ID, pid, err)
		return
	}

	if sig.Kind == types.SignalJoin {
		conn.BindParticipant(pid)
	}

	log.Info().Str("module", "router").Str("session_id", room.ID).Str("participant_id", pid).Str("signal", sig.Kind.String()).Msg("signal processed")

	switch sig.Kind {
	case types.SignalBackgroundStatusUpdate:
		r.broadcastBackground(ctx, room.ID, pid, outcome)

	case types.SignalLeave:
		r.broadcastRoster(ctx, room.ID)
		r.broadcastEvent(ctx, room.ID, pid, types.MessageParticipantLeft, outcome.Record)
		conn.UnbindParticipant()
		r.closeConn(conn)

	default:
		if !outcome.Changed() {
			return
		}
		r.broadcastRoster(ctx, room.ID)
		if sig.Kind == types.SignalJoin && (outcome.Created || outcome.Reactivated) {
			r.broadcastEvent(ctx, room.ID, pid, types.MessageParticipantJoined, outcome.Record)
		}
	}
}

// HandleDisconnect releases conn from the registry and applies the disconnect
// transition for its participant, unless another live socket in this process
// still speaks for them.
func (r *Router) HandleDisconnect(ctx context.Context, conn interfaces.Connection) {
	r.limiter.Forget(conn.GetID())

	remaining := r.registry.ReleaseConnection(conn)
	pid := conn.GetParticipantID()
	if pid == "" {
		return
	}
	roomID := conn.GetRoomID()
	if remaining > 0 {
		log.Debug().Str("module", "router").Str("session_id", roomID).Str("participant_id", pid).Msg("participant still connected elsewhere")
		return
	}

	room, err := r.sessions.CheckActive(ctx, roomID)
	if err != nil {
		log.Debug().Str("module", "router").Str("session_id", roomID).Err(err).Msg("skipping disconnect transition")
		return
	}

	outcome, err := r.engine.Apply(ctx, room, pid, types.NewDisconnectSignal(pid))
	if err != nil {
		log.Warn().Str("module", "router").Str("session_id", roomID).Str("participant_id", pid).Err(err).Msg("disconnect transition failed")
		return
	}
	if !outcome.Changed() {
		return
	}

	r.broadcastRoster(ctx, roomID)
	r.broadcastEvent(ctx, roomID, pid, types.MessageParticipantOffline, outcome.Record)
}

func (r *Router) handleApplyError(conn interfaces.Connection, roomID, pid string, err error) {
	switch {
	case errors.Is(err, presence.ErrRoomFull):
		r.reply(conn, types.NewErrorMessage(msgSessionFull))
	case errors.Is(err, interfaces.ErrRoomNotFound):
		log.Warn().Str("module", "router").Str("session_id", roomID).Str("participant_id", pid).Msg("session vanished during update")
	default:
		log.Error().Str("module", "router").Str("session_id", roomID).Str("participant_id", pid).Err(err).Msg("failed to apply signal")
		r.reply(conn, types.NewErrorMessage(msgInternalServer))
	}
}

func (r *Router) relayNotification(ctx context.Context, conn interfaces.Connection, room *types.Room, sig *types.Signal) {
	msg := types.Notification{
		ParticipantID:    sig.ParticipantID,
		ParticipantName:  sig.ParticipantName,
		Message:          sig.Message,
		NotificationType: sig.NotificationType,
		Icon:             sig.Icon,
		Timestamp:        sig.Timestamp,
	}
	if msg.ParticipantName == "" {
		msg.ParticipantName = r.engine.DisplayName(ctx, room.ID, sig.ParticipantID)
	}

	var err error
	if sig.ExcludeSelf {
		err = r.broadcaster.BroadcastOthers(ctx, room.ID, sig.ParticipantID, msg)
	} else {
		err = r.broadcaster.Broadcast(ctx, room.ID, msg)
	}
	if err != nil {
		log.Warn().Str("module", "router").Str("session_id", room.ID).Err(err).Msg("notification relay failed")
	}
}

func (r *Router) broadcastRoster(ctx context.Context, roomID string) {
	roster, err := r.engine.Roster(ctx, roomID)
	if err != nil {
		log.Error().Str("module", "router").Str("session_id", roomID).Err(err).Msg("failed to load roster")
		return
	}
	if err := r.broadcaster.Broadcast(ctx, roomID, types.LocationUpdate{Locations: roster}); err != nil {
		log.Warn().Str("module", "router").Str("session_id", roomID).Err(err).Msg("roster broadcast failed")
	}
}

func (r *Router) broadcastBackground(ctx context.Context, roomID, pid string, outcome presence.Outcome) {
	roster, err := r.engine.Roster(ctx, roomID)
	if err != nil {
		log.Error().Str("module", "router").Str("session_id", roomID).Err(err).Msg("failed to load roster")
		return
	}
	msg := types.BackgroundStatusChange{
		ParticipantID:   pid,
		ParticipantName: types.DefaultDisplayName(pid),
		Locations:       roster,
	}
	if outcome.Record != nil {
		msg.ParticipantName = outcome.Record.DisplayName()
		msg.IsBackground = outcome.Record.IsBackground
	}
	if err := r.broadcaster.Broadcast(ctx, roomID, msg); err != nil {
		log.Warn().Str("module", "router").Str("session_id", roomID).Err(err).Msg("background broadcast failed")
	}
}

func (r *Router) broadcastEvent(ctx context.Context, roomID, pid, event string, record *types.Participant) {
	name := types.DefaultDisplayName(pid)
	if record != nil {
		name = record.DisplayName()
	}
	msg := types.ParticipantEvent{Event: event, ParticipantID: pid, ParticipantName: name}
	if err := r.broadcaster.BroadcastOthers(ctx, roomID, pid, msg); err != nil {
		log.Warn().Str("module", "router").Str("session_id", roomID).Str("event", event).Err(err).Msg("event broadcast failed")
	}
}

// reply sends msg to conn alone.
func (r *Router) reply(conn interfaces.Connection, msg types.Outbound) {
	data, err := types.EncodeOutbound(msg)
	if err != nil {
		log.Error().Str("module", "router").Err(err).Msg("failed to encode reply")
		return
	}
	if err := conn.Send(data); err != nil {
		log.Debug().Str("module", "router").Str("conn_id", conn.GetID()).Err(err).Msg("reply dropped")
	}
}

func (r *Router) closeConn(conn interfaces.Connection) {
	if c, ok := conn.(closeAfterFlusher); ok {
		c.CloseAfterFlush()
		return
	}
	_ = conn.Close()
}

// SweepLimiters drops rate limiter state for idle connections.
func (r *Router) SweepLimiters(maxIdle time.Duration) int {
	return r.limiter.Cleanup(maxIdle)
}
