package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"locationshare/pkg/interfaces"
)

// SignalHandler consumes inbound frames of a registered connection.
// HandleMessage is called sequentially per connection; HandleDisconnect is
// called exactly once after the read loop ends.
type SignalHandler interface {
	HandleMessage(ctx context.Context, conn interfaces.Connection, data []byte)
	HandleDisconnect(ctx context.Context, conn interfaces.Connection)
}

// HandlerConfig holds the socket timings and origin policy.
type HandlerConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
	Connection      Options
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageBytes: 8192,
		Connection:      DefaultOptions(),
	}
}

// Handler upgrades /ws/location/{session_id}/ requests and runs the read
// pump of each accepted socket.
type Handler struct {
	registry *Registry
	sessions interfaces.SessionManager
	signals  SignalHandler
	config   HandlerConfig
	upgrader websocket.Upgrader

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewHandler(registry *Registry, sessions interfaces.SessionManager, signals SignalHandler, config HandlerConfig) *Handler {
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	h := &Handler{
		registry: registry,
		sessions: sessions,
		signals:  signals,
		config:   config,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin unless an allow list is configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// HandleWebSocket validates the room before upgrading so unknown rooms get a
// plain 404 and never reach the registry.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["session_id"]
	if !h.sessions.RoomExists(r.Context(), roomID) {
		log.Info().Str("module", "websocket").Str("session_id", roomID).Msg("rejecting socket for unknown session")
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "websocket").Err(err).Msg("upgrade failed")
		return
	}

	wsConn := NewConnection(conn, roomID, h.config.Connection)

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		_ = wsConn.Close()
		return
	}
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.mu.Unlock()
		log.Error().Str("module", "websocket").Err(err).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	log.Info().Str("module", "websocket").Str("session_id", roomID).Str("conn_id", wsConn.GetID()).Msg("socket connected")
	go func() {
		defer h.wg.Done()
		h.handleConnection(wsConn)
	}()
}

// Shutdown refuses new sockets, closes every registered one and waits until
// each read pump has run its disconnect handling, or ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	closed := h.registry.CloseAll()
	log.Info().Str("module", "websocket").Int("connections", closed).Msg("closing sockets")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h.signals.HandleDisconnect(ctx, conn)
		cancel()
		h.registry.UnregisterConnection(conn.GetID())
		_ = conn.Close()
		log.Info().Str("module", "websocket").Str("session_id", conn.GetRoomID()).Str("conn_id", conn.GetID()).Msg("socket disconnected")
	}()

	ws := conn.conn
	if h.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.config.MaxMessageBytes)
	}
	readTimeout := h.config.ReadTimeout
	if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(conn.writeTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Str("module", "websocket").Str("conn_id", conn.GetID()).Err(err).Msg("unexpected close")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		// any inbound frame counts as liveness
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		h.signals.HandleMessage(conn.Context(), conn, data)
	}
}
