// Package app wires the store, session manager, presence engine, broadcaster
// and HTTP surface into one runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"locationshare/internal/api"
	"locationshare/internal/config"
	"locationshare/internal/database"
	"locationshare/internal/hub"
	"locationshare/internal/logging"
	"locationshare/internal/presence"
	"locationshare/internal/router"
	"locationshare/internal/session"
	"locationshare/internal/websocket"
	"locationshare/pkg/interfaces"
)

const limiterIdle = 10 * time.Minute

// Application coordinates all system components
// Initialization order: Store → Session → Registry → Hub → Engine → Router → Handler → API → HTTP
type Application struct {
	config     *config.Config
	store      interfaces.Store
	sessions   *session.Manager
	registry   *websocket.Registry
	hub        *hub.Hub
	router     *router.Router
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication builds every component but starts nothing.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}

	sessions := session.NewManager(store)
	if err := sessions.LoadActiveRooms(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}

	busCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bus, err := hub.NewBus(busCtx, hub.BusConfig{
		Backend:   cfg.Broadcast.Backend,
		RedisAddr: cfg.Broadcast.RedisAddr,
		NATSURL:   cfg.Broadcast.NATSURL,
		Prefix:    cfg.Broadcast.ChannelPrefix,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to connect broadcast backend: %w", err)
	}

	registry := websocket.NewRegistry()
	broadcaster := hub.NewHub(registry, bus)
	engine := presence.NewEngine(store)
	signalRouter := router.NewRouter(sessions, engine, broadcaster, registry, router.Limits{
		SignalsPerSecond: cfg.Limits.SignalsPerSecond,
		Burst:            cfg.Limits.SignalBurst,
	})

	wsHandler := websocket.NewHandler(registry, sessions, signalRouter, websocket.HandlerConfig{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Connection: websocket.Options{
			SendBuffer:   cfg.WebSocket.SendBuffer,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
		},
	})

	apiServer := api.NewServer(sessions, store, registry, api.Options{
		PublicBaseURL:   cfg.HTTP.PublicBaseURL,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		DefaultDuration: cfg.Session.DefaultDuration,
		MaxParticipants: cfg.Session.MaxParticipants,
	})
	apiServer.Router().HandleFunc("/ws/location/{session_id}/", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:        cfg.Address(),
		Handler:     logging.AccessLog(logging.Recover(apiServer)),
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// the socket writer sets its own deadline on every frame
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		sessions:   sessions,
		registry:   registry,
		hub:        broadcaster,
		router:     signalRouter,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start starts the hub and background sweeps, then begins serving.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		app.sessions.RunJanitor(bgCtx, app.config.Session.JanitorInterval)
	}()
	go func() {
		defer app.wg.Done()
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.router.SweepLimiters(limiterIdle)
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "app").Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().
		Str("module", "app").
		Str("addr", ln.Addr().String()).
		Str("store", app.config.Database.Driver).
		Str("broadcast", app.config.Broadcast.Backend).
		Msg("locationshare started")
	return nil
}

// Stop shuts down in reverse order: HTTP → sockets → sweeps → hub → store.
// Sockets are drained before the store closes so every live participant
// goes offline.
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Str("module", "app").Msg("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("socket shutdown: %w", err))
	}
	if app.cancel != nil {
		app.cancel()
		app.wg.Wait()
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store shutdown: %w", err))
	}

	log.Info().Str("module", "app").Msg("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listen address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the full HTTP handler, for embedding in test servers.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// Sessions exposes the session manager for administrative callers.
func (app *Application) Sessions() *session.Manager {
	return app.sessions
}
