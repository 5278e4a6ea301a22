package blobstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/chatmesh/core"
)

// SQLiteStore implements core.BlobStore on a single SQLite table using the
// pure-Go modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.BlobStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed and the schema is created if it doesn't exist. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`)

	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a blob.
func (s *SQLiteStore) Save(namespace, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO blobs (namespace, key, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, namespace, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}

	return nil
}

// Get returns a blob or ErrNotFound.
func (s *SQLiteStore) Get(namespace, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blobs WHERE namespace = ? AND key = ?`, namespace, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob: %w", err)
	}

	return data, nil
}

// List returns the sorted keys of a namespace.
func (s *SQLiteStore) List(namespace string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM blobs WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning blob key: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// Delete removes a blob or returns ErrNotFound.
func (s *SQLiteStore) Delete(namespace, key string) error {
	res, err := s.db.Exec(`DELETE FROM blobs WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}
