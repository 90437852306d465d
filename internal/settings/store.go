// Package settings persists device key/value state in sqlite, partitioned
// by namespace.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);`

// Store implements ports.Settings on a sqlite database file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the settings database under stateDir.
func Open(stateDir string) (*Store, error) {
	dbPath := filepath.Join(stateDir, "settings.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to settings database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetString(namespace string, key string, fallback string) string {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM settings WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if err != nil {
		return fallback
	}
	return value
}

func (s *Store) SetString(namespace string, key string, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) GetInt(namespace string, key string, fallback int) int {
	raw := s.GetString(namespace, key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (s *Store) SetInt(namespace string, key string, value int) error {
	return s.SetString(namespace, key, strconv.Itoa(value))
}

func (s *Store) EraseNamespace(namespace string) error {
	if namespace == "" {
		return errors.New("namespace must not be empty")
	}
	_, err := s.db.Exec(`DELETE FROM settings WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("failed to erase namespace %s: %w", namespace, err)
	}
	return nil
}
