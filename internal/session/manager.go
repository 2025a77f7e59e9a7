package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

// Manager implements interfaces.SessionManager over a Store
// ARCHITECTURAL DISCOVERY: Rooms never change after creation, so a cached
// room is never stale; the cache only needs pruning once rooms expire
type Manager struct {
	store interfaces.Store
	rooms map[string]*types.Room
	mu    sync.RWMutex
	now   func() time.Time
}

var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager creates a new session manager
func NewManager(store interfaces.Store) *Manager {
	return &Manager{
		store: store,
		rooms: make(map[string]*types.Room),
		now:   time.Now,
	}
}

// SetClock replaces the time source used by the expiry guard.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// LoadActiveRooms warms the cache with every unexpired room.
func (m *Manager) LoadActiveRooms(ctx context.Context) error {
	rooms, err := m.store.ListRooms(ctx, m.now())
	if err != nil {
		return fmt.Errorf("failed to load active rooms: %w", err)
	}

	m.mu.Lock()
	for _, room := range rooms {
		m.rooms[room.ID] = room
	}
	m.mu.Unlock()

	log.Info().Str("module", "session").Int("rooms", len(rooms)).Msg("loaded active rooms")
	return nil
}

// CreateRoom creates a room expiring durationMinutes from now. A zero
// duration or max uses the defaults.
func (m *Manager) CreateRoom(ctx context.Context, durationMinutes, maxParticipants int) (*types.Room, error) {
	if durationMinutes == 0 {
		durationMinutes = types.DefaultDurationMinutes
	}
	if maxParticipants == 0 {
		maxParticipants = types.DefaultMaxParticipants
	}
	if !types.IsValidDuration(durationMinutes) {
		return nil, types.ErrInvalidDuration
	}
	if !types.IsValidMaxParticipants(maxParticipants) {
		return nil, types.ErrInvalidMaxParticipants
	}

	created := m.now().UTC()
	room := &types.Room{
		ID:              uuid.NewString(),
		DurationMinutes: durationMinutes,
		CreatedAt:       created,
		ExpiresAt:       created.Add(time.Duration(durationMinutes) * time.Minute),
		IsActive:        true,
		MaxParticipants: maxParticipants,
	}

	if err := m.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.rooms[room.ID] = room
	m.mu.Unlock()

	log.Info().
		Str("module", "session").
		Str("session_id", room.ID).
		Int("duration_minutes", durationMinutes).
		Time("expires_at", room.ExpiresAt).
		Msg("created session")
	return room, nil
}

// GetRoom retrieves a room, checking the cache first.
func (m *Manager) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, interfaces.ErrRoomNotFound
	}

	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rooms[roomID] = room
	m.mu.Unlock()
	return room, nil
}

// RoomExists reports existence only. Expired rooms still exist.
func (m *Manager) RoomExists(ctx context.Context, roomID string) bool {
	_, err := m.GetRoom(ctx, roomID)
	if err != nil && !errors.Is(err, interfaces.ErrRoomNotFound) {
		log.Warn().Str("module", "session").Str("session_id", roomID).Err(err).Msg("room lookup failed")
	}
	return err == nil
}

// CheckActive is the expiry guard: it returns the room when now is not past
// its expiry, ErrSessionExpired when it is, ErrRoomNotFound when unknown.
func (m *Manager) CheckActive(ctx context.Context, roomID string) (*types.Room, error) {
	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsExpired(m.now()) {
		return room, ErrSessionExpired
	}
	return room, nil
}

// ListActiveRooms returns unexpired rooms from the store.
func (m *Manager) ListActiveRooms(ctx context.Context) ([]*types.Room, error) {
	return m.store.ListRooms(ctx, m.now())
}

// PruneExpired drops expired rooms from the cache and returns how many went.
// The rows stay in the store.
func (m *Manager) PruneExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id, room := range m.rooms {
		if room.IsExpired(now) {
			delete(m.rooms, id)
			pruned++
		}
	}
	return pruned
}

// RunJanitor prunes the cache every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.PruneExpired(); n > 0 {
				log.Debug().Str("module", "session").Int("pruned", n).Msg("pruned expired rooms from cache")
			}
		}
	}
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"cached_sessions": len(m.rooms),
	}
}
