// ABOUTME: Local SQLite mirror of the persisted workspace snapshot
// ABOUTME: Restore fallback for when the backend's workspace blob is unreachable

package statecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no snapshot has been cached yet.
var ErrNotFound = errors.New("statecache: no snapshot")

// Cache keeps the last pushed workspace snapshot on local disk. The
// backend remains the source of truth; this mirror only covers restores
// while the backend blob endpoint is unreachable.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the cache database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Cache, error) {
	logger := slog.Default().With("component", "statecache")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS workspace_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		blob TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Save stores the serialized snapshot, replacing any previous one.
func (c *Cache) Save(ctx context.Context, blob string) error {
	query := `INSERT INTO workspace_snapshot (id, blob, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`
	if _, err := c.db.ExecContext(ctx, query, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Load returns the cached snapshot and when it was saved.
func (c *Cache) Load(ctx context.Context) (string, time.Time, error) {
	var blob string
	var updated time.Time
	row := c.db.QueryRowContext(ctx, "SELECT blob, updated_at FROM workspace_snapshot WHERE id = 1")
	if err := row.Scan(&blob, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, ErrNotFound
		}
		return "", time.Time{}, fmt.Errorf("loading snapshot: %w", err)
	}
	return blob, updated, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
