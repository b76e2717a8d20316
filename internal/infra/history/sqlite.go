// Package history records played tracks in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	zlog "github.com/rs/zerolog/log"
)

const (
	// DefaultPath is the default database location.
	DefaultPath = "data/history.db"

	schemaVersion = "1"
)

// ErrNotOpen is returned when the store is used before Open or after Close.
var ErrNotOpen = errors.New("history database not open")

// Entry is one played track.
type Entry struct {
	ID        int64     `json:"id"`
	TrackID   string    `json:"track_id"`
	Name      string    `json:"name"`
	Artists   string    `json:"artists"`
	SourceURL string    `json:"source_url"`
	StartedAt time.Time `json:"started_at"`
}

// Store is the play history database.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewStore creates a store for path. The database is opened by Open.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Open opens the database and creates the schema.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create history directory")
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return errors.Wrap(err, "failed to open history database")
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "failed to initialize history schema")
	}

	s.db = db
	zlog.Info().Msgf("history: database opened: path=%s", s.path)
	return nil
}

func createSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS plays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		track_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		artists TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plays_started_at ON plays(started_at);

	CREATE TABLE IF NOT EXISTS history_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(
		`INSERT INTO history_meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		schemaVersion,
	)
	return err
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record appends an entry. StartedAt defaults to now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrNotOpen
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plays (track_id, name, artists, source_url, started_at) VALUES (?, ?, ?, ?, ?)`,
		e.TrackID, e.Name, e.Artists, e.SourceURL, e.StartedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record play of %s", e.TrackID)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, track_id, name, artists, source_url, started_at
		 FROM plays ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			started int64
		)
		if err := rows.Scan(&e.ID, &e.TrackID, &e.Name, &e.Artists, &e.SourceURL, &started); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		e.StartedAt = time.UnixMilli(started)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history")
	}
	return entries, nil
}

// Count returns the number of recorded plays.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return 0, ErrNotOpen
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plays`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count history")
	}
	return n, nil
}
