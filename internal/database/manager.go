package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	dbconfig "locationshare/pkg/database"
	"locationshare/pkg/interfaces"
	"locationshare/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements interfaces.Store on sqlite
// ARCHITECTURAL DISCOVERY: Every write funnels through one goroutine, which
// serializes read-modify-write cycles per participant key without row locks
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	retryDelay   time.Duration
	writeTimeout time.Duration
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the sqlite database, applies pragmas and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   250 * time.Millisecond,
		writeTimeout: 30 * time.Second,
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// Migrate applies the embedded schema migrations and validates the result.
func (m *Manager) Migrate() error {
	mm := dbconfig.NewMigrationManager(m.db, dbconfig.Migrations())
	if err := mm.ApplyMigrations(); err != nil {
		return err
	}
	return mm.ValidateSchema()
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			// FUNCTIONAL DISCOVERY: Retry exactly once, and only for lock
			// contention; constraint failures are final
			if isRetryable(err) && op.ctx.Err() == nil {
				log.Warn().Str("module", "database").Err(err).Dur("delay", m.retryDelay).Msg("write contended, retrying")
				time.Sleep(m.retryDelay)
				err = op.operation(op.ctx, m.db)
				if err != nil {
					log.Error().Str("module", "database").Err(err).Msg("write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Debug().Str("module", "database").Msg("write loop shutting down")
			return
		}
	}
}

func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// CreateRoom inserts a new room row.
func (m *Manager) CreateRoom(ctx context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO rooms (id, duration_minutes, created_at, expires_at, is_active, max_participants)
			VALUES (?, ?, ?, ?, ?, ?)`,
			room.ID,
			room.DurationMinutes,
			room.CreatedAt.UTC(),
			room.ExpiresAt.UTC(),
			room.IsActive,
			room.MaxParticipants,
		)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return interfaces.ErrRoomExists
			}
			return fmt.Errorf("failed to insert room: %w", err)
		}
		return nil
	})
}

const roomColumns = `id, duration_minutes, created_at, expires_at, is_active, max_participants`

// GetRoom retrieves a room by ID
func (m *Manager) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, roomID)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return room, nil
}

// ListRooms returns active rooms expiring after the given instant, newest first.
func (m *Manager) ListRooms(ctx context.Context, unexpiredAt time.Time) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE is_active = 1 AND expires_at > ?
		ORDER BY created_at DESC`, unexpiredAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

const participantColumns = `room_id, participant_id, name, latitude, longitude, accuracy, altitude,
	heading, speed, status, is_online, is_background, is_active, joined_at, last_updated`

// GetParticipant returns ErrParticipantNotFound when no record exists.
func (m *Manager) GetParticipant(ctx context.Context, roomID, participantID string) (*types.Participant, error) {
	return getParticipant(ctx, m.db, roomID, participantID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getParticipant(ctx context.Context, q queryRower, roomID, participantID string) (*types.Participant, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE room_id = ? AND participant_id = ?`,
		roomID, participantID)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	return p, nil
}

// MutateParticipant runs fn against the current record inside one write
// transaction on the writer goroutine.
func (m *Manager) MutateParticipant(ctx context.Context, roomID, participantID string, fn interfaces.MutateFunc) (*types.Participant, error) {
	var result *types.Participant

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		result = nil

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE id = ?`, roomID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check room: %w", err)
		}
		if exists == 0 {
			return interfaces.ErrRoomNotFound
		}

		current, err := getParticipant(ctx, tx, roomID, participantID)
		if err != nil && !errors.Is(err, interfaces.ErrParticipantNotFound) {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		next.RoomID, next.ParticipantID = roomID, participantID
		if err := next.Validate(); err != nil {
			return err
		}

		if err := upsertParticipant(ctx, tx, next); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit participant update: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func upsertParticipant(ctx context.Context, tx *sql.Tx, p *types.Participant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id, participant_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			accuracy = excluded.accuracy,
			altitude = excluded.altitude,
			heading = excluded.heading,
			speed = excluded.speed,
			status = excluded.status,
			is_online = excluded.is_online,
			is_background = excluded.is_background,
			is_active = excluded.is_active,
			last_updated = excluded.last_updated`,
		p.RoomID,
		p.ParticipantID,
		p.Name,
		nullFloat(p.Latitude),
		nullFloat(p.Longitude),
		nullFloat(p.Accuracy),
		nullFloat(p.Altitude),
		nullFloat(p.Heading),
		nullFloat(p.Speed),
		string(p.Status),
		p.IsOnline,
		p.IsBackground,
		p.IsActive,
		p.JoinedAt.UTC(),
		p.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// ListActiveParticipants returns the roster ordered by last_updated descending.
func (m *Manager) ListActiveParticipants(ctx context.Context, roomID string) ([]*types.Participant, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE room_id = ? AND is_active = 1
		ORDER BY last_updated DESC, participant_id ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	participants := make([]*types.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return participants, nil
}

func (m *Manager) CountActiveParticipants(ctx context.Context, roomID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE room_id = ? AND is_active = 1`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (*types.Room, error) {
	var room types.Room
	err := s.Scan(
		&room.ID,
		&room.DurationMinutes,
		&room.CreatedAt,
		&room.ExpiresAt,
		&room.IsActive,
		&room.MaxParticipants,
	)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func scanParticipant(s scanner) (*types.Participant, error) {
	var p types.Participant
	var status string
	var lat, lon, accuracy, altitude, hdg, spd sql.NullFloat64
	err := s.Scan(
		&p.RoomID,
		&p.ParticipantID,
		&p.Name,
		&lat,
		&lon,
		&accuracy,
		&altitude,
		&hdg,
		&spd,
		&status,
		&p.IsOnline,
		&p.IsBackground,
		&p.IsActive,
		&p.JoinedAt,
		&p.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	p.Status = types.Status(status)
	p.Position = types.Position{
		Latitude:  floatPtr(lat),
		Longitude: floatPtr(lon),
		Accuracy:  floatPtr(accuracy),
		Altitude:  floatPtr(altitude),
		Heading:   floatPtr(hdg),
		Speed:     floatPtr(spd),
	}
	return &p, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
