package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"locationshare/internal/session"
	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

// Registry is the slice of the connection registry the API reads.
type Registry interface {
	GetRoomConnections(roomID string) []interfaces.Connection
	GetStats() map[string]interface{}
}

// Options carries the HTTP-facing settings.
type Options struct {
	PublicBaseURL   string
	AllowedOrigins  []string
	DefaultDuration int
	MaxParticipants int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No presence logic lives here; rooms come from the session manager, rosters from the store
type Server struct {
	sessions interfaces.SessionManager
	store    interfaces.Store
	registry Registry
	opts     Options
	router   *mux.Router
	handler  http.Handler
	started  time.Time
}

func NewServer(sessions interfaces.SessionManager, store interfaces.Store, registry Registry, opts Options) *Server {
	if opts.DefaultDuration == 0 {
		opts.DefaultDuration = types.DefaultDurationMinutes
	}
	if opts.MaxParticipants == 0 {
		opts.MaxParticipants = types.DefaultMaxParticipants
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		sessions: sessions,
		store:    store,
		registry: registry,
		opts:     opts,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	s.setupRoutes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}).Handler(s.router)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)
	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{session_id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{session_id}/locations", s.getLocations).Methods(http.MethodGet)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
}

// Router exposes the mux so the socket route can share it.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type CreateSessionRequest struct {
	DurationMinutes int `json:"duration_minutes"`
	MaxParticipants int `json:"max_participants"`
}

type SessionResponse struct {
	Session         *types.Room `json:"session"`
	ShareURL        string      `json:"share_url"`
	WebSocketURL    string      `json:"websocket_url"`
	ConnectionCount int         `json:"connection_count"`
	IsExpired       bool        `json:"is_expired"`
	RemainingSecs   int64       `json:"remaining_seconds"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type LocationsResponse struct {
	SessionID string              `json:"session_id"`
	Locations []types.RosterEntry `json:"locations"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]interface{} `json:"connections"`
	Uptime      string                 `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.opts.DefaultDuration
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = s.opts.MaxParticipants
	}

	room, err := s.sessions.CreateRoom(r.Context(), req.DurationMinutes, req.MaxParticipants)
	if err != nil {
		if errors.Is(err, types.ErrInvalidDuration) || errors.Is(err, types.ErrInvalidMaxParticipants) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Str("module", "api").Err(err).Msg("failed to create session")
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	log.Info().Str("module", "api").Str("session_id", room.ID).Int("duration_minutes", room.DurationMinutes).Msg("session created")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(s.describe(r, room))
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.sessions.ListActiveRooms(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(rooms))}
	for _, room := range rooms {
		resp.Sessions = append(resp.Sessions, s.describe(r, room))
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GET /api/sessions/{session_id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	room, err := s.sessions.GetRoom(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		s.sendLookupError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(s.describe(r, room))
}

// GET /api/sessions/{session_id}/locations
func (s *Server) getLocations(w http.ResponseWriter, r *http.Request) {
	room, err := s.sessions.CheckActive(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		s.sendLookupError(w, err)
		return
	}

	participants, err := s.store.ListActiveParticipants(r.Context(), room.ID)
	if err != nil {
		log.Error().Str("module", "api").Str("session_id", room.ID).Err(err).Msg("failed to load roster")
		s.sendError(w, "Failed to load locations", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(LocationsResponse{
		SessionID: room.ID,
		Locations: types.Roster(participants),
	})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.registry.GetStats(),
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) describe(r *http.Request, room *types.Room) SessionResponse {
	base := s.opts.PublicBaseURL
	if base == "" {
		base = requestBaseURL(r)
	}
	shareURL, wsURL := ShareLinks(base, room.ID)
	now := time.Now()
	return SessionResponse{
		Session:         room,
		ShareURL:        shareURL,
		WebSocketURL:    wsURL,
		ConnectionCount: len(s.registry.GetRoomConnections(room.ID)),
		IsExpired:       room.IsExpired(now),
		RemainingSecs:   int64(room.Remaining(now).Seconds()),
	}
}

func (s *Server) sendLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrRoomNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionExpired):
		s.sendError(w, "Session has expired", http.StatusGone)
	default:
		log.Error().Str("module", "api").Err(err).Msg("session lookup failed")
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
