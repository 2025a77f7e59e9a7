package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	dbconfig "locationshare/pkg/database"
	"locationshare/pkg/interfaces"
)

// Open returns a migrated, ready Store for driver ("sqlite" or "bolt").
func Open(driver, path string, timeout time.Duration) (interfaces.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	switch driver {
	case "sqlite", "":
		cfg := dbconfig.DefaultConfig()
		cfg.DatabasePath = path
		if timeout > 0 {
			cfg.BusyTimeout = timeout
		}
		m, err := NewManager(cfg)
		if err != nil {
			return nil, err
		}
		if err := m.Migrate(); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		return m, nil

	case "bolt":
		return OpenBoltStore(path, timeout)

	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
