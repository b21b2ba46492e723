package client

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// stateSchemaVersion is stored in PRAGMA user_version
const stateSchemaVersion = 1

// State is the client's local key/value store: the saved identity and the
// notification icon hash. It lives next to the other per-user files in dir.
type State struct {
	db  *sql.DB
	dir string
}

// OpenState opens the state database at path, creating it and its directory
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", stateDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// A second writer would only hit SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &State{db: db, dir: dir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state database %s: %w", path, err)
	}
	return s, nil
}

// stateDSN applies the connection pragmas through the modernc driver's DSN
func stateDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return path + "?" + q.Encode()
}

func (s *State) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= stateSchemaVersion {
		return nil
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", stateSchemaVersion))
	return err
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig returns the value stored under key, or "" when there is none
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// SetConfig stores value under key
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// DeleteConfig removes key; a missing key is not an error
func (s *State) DeleteConfig(key string) error {
	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// GetStateDir returns the directory holding the database
func (s *State) GetStateDir() string {
	return s.dir
}
