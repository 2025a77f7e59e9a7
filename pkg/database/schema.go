package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"rooms":             "Room storage",
		"participants":      "Presence records",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
func (v *SchemaValidator) ValidateTableStructure() error {
	roomColumns := map[string]string{
		"id":               "TEXT",
		"duration_minutes": "INTEGER",
		"created_at":       "DATETIME",
		"expires_at":       "DATETIME",
		"is_active":        "INTEGER",
		"max_participants": "INTEGER",
	}
	if err := v.validateColumns("rooms", roomColumns); err != nil {
		return fmt.Errorf("rooms table structure invalid: %w", err)
	}

	participantColumns := map[string]string{
		"room_id":        "TEXT",
		"participant_id": "TEXT",
		"name":           "TEXT",
		"latitude":       "REAL",
		"longitude":      "REAL",
		"accuracy":       "REAL",
		"altitude":       "REAL",
		"heading":        "REAL",
		"speed":          "REAL",
		"status":         "TEXT",
		"is_online":      "INTEGER",
		"is_background":  "INTEGER",
		"is_active":      "INTEGER",
		"joined_at":      "DATETIME",
		"last_updated":   "DATETIME",
	}
	if err := v.validateColumns("participants", participantColumns); err != nil {
		return fmt.Errorf("participants table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_rooms_active_expiry": "Unexpired room listing",
		"idx_participants_roster": "Roster snapshot ordering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints exercises the integrity rules inside a rolled-back
// transaction: orphan participants, positions on non-sharing records and
// expiry rewrites must all be rejected.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	const checkRoom = "00000000-0000-0000-0000-000000000000"

	_, err = tx.Exec(`
		INSERT INTO participants (room_id, participant_id, status, joined_at, last_updated)
		VALUES ('missing-room', 'constraint-check', 'waiting', ?, ?)`, now, now)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: participants.room_id")
	}

	if _, err = tx.Exec(`
		INSERT INTO rooms (id, duration_minutes, created_at, expires_at, is_active, max_participants)
		VALUES (?, 15, ?, ?, 1, 50)`, checkRoom, now, now.Add(15*time.Minute)); err != nil {
		return fmt.Errorf("failed to create constraint-check room: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO participants (room_id, participant_id, latitude, longitude, status, joined_at, last_updated)
		VALUES (?, 'constraint-check', 35.0, 139.0, 'waiting', ?, ?)`, checkRoom, now, now)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: position requires sharing status")
	}

	_, err = tx.Exec(`UPDATE rooms SET expires_at = ? WHERE id = ?`, now.Add(time.Hour), checkRoom)
	if err == nil {
		return fmt.Errorf("trigger not enforced: room expiry rewrite")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
