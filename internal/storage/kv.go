package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// KV is a synchronous string-keyed persistence surface. Implementations
// guarantee single-key atomicity and nothing more: no transactions across
// keys, no cross-device sync.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool)
	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// SQLiteKV persists keys in the kv table created by telemetry.InitDB.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV wraps an open database handle.
func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

func (s *SQLiteKV) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *SQLiteKV) Set(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to store key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// MemoryKV is an in-memory KV used in tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryKV) Set(key, value string) error {
	if key == "" {
		return errors.New("empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
