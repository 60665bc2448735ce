// Package registry provides SQLite-based persistence for connected stores.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

const currentSchemaVersion = 1

var (
	// ErrNotFound is returned when no store has the requested uuid.
	ErrNotFound = errors.New("store not found")
	// ErrExists is returned when a store with the same URL is already registered.
	ErrExists = errors.New("store already registered")
)

// Registry is the table of connected stores.
type Registry struct {
	db *sql.DB
}

// Open opens the registry database and creates its schema.
func Open(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	r := &Registry{db: db}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		api_key TEXT NOT NULL,
		api_secret TEXT NOT NULL,
		is_plus_tier BOOLEAN DEFAULT FALSE,
		registered_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS registry_schema_version (
		version INTEGER PRIMARY KEY
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := r.db.Exec("INSERT OR REPLACE INTO registry_schema_version (version) VALUES (?)", currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Add registers a store.
func (r *Registry) Add(s *models.Store) error {
	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = time.Now().UTC()
	}
	_, err := r.db.Exec(`
		INSERT INTO stores (uuid, name, url, api_key, api_secret, is_plus_tier, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.UUID, s.Name, s.URL, s.APIKey, s.APISecret, s.IsPlusTier, s.RegisteredAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrExists, s.URL)
		}
		return fmt.Errorf("failed to insert store: %w", err)
	}
	return nil
}

// Get returns the store with the given uuid.
func (r *Registry) Get(uuid string) (*models.Store, error) {
	row := r.db.QueryRow(`
		SELECT uuid, name, url, api_key, api_secret, is_plus_tier, registered_at
		FROM stores WHERE uuid = ?
	`, uuid)
	s, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return s, err
}

// List returns all stores in registration order.
func (r *Registry) List() ([]*models.Store, error) {
	rows, err := r.db.Query(`
		SELECT uuid, name, url, api_key, api_secret, is_plus_tier, registered_at
		FROM stores ORDER BY registered_at, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// SetPlusTier records a plan tier change.
func (r *Registry) SetPlusTier(uuid string, plus bool) error {
	res, err := r.db.Exec("UPDATE stores SET is_plus_tier = ? WHERE uuid = ?", plus, uuid)
	if err != nil {
		return fmt.Errorf("failed to update store: %w", err)
	}
	return requireRow(res, uuid)
}

// Delete removes a store.
func (r *Registry) Delete(uuid string) error {
	res, err := r.db.Exec("DELETE FROM stores WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	return requireRow(res, uuid)
}

func requireRow(res sql.Result, uuid string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStore(row scanner) (*models.Store, error) {
	var s models.Store
	var registered string
	if err := row.Scan(&s.UUID, &s.Name, &s.URL, &s.APIKey, &s.APISecret, &s.IsPlusTier, &registered); err != nil {
		return nil, err
	}
	s.RegisteredAt = parseTimestamp(registered)
	return &s, nil
}

// parseTimestamp parses a timestamp string from SQLite in the formats it may hold.
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
