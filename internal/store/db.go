package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrUnavailable wraps any failure to open or migrate the backing database.
// Callers treat it as fatal at startup: running without persistence would
// silently lose the event log and candidate ledger.
var ErrUnavailable = errors.New("store unavailable")

// DB wraps a sql.DB connection to the hearth SQLite database.
type DB struct {
	*sql.DB
	Path string
}

// DefaultDataDir returns the default data directory: ~/.hearth
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".hearth"), nil
}

// Open opens (or creates) the SQLite database at <dataDir>/hearth.db,
// configures pragmas, and runs migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrUnavailable, err)
	}
	path := filepath.Join(dataDir, "hearth.db")

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each pooled connection to :memory: would see its own empty database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}
