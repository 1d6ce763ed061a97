package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	document_id       TEXT PRIMARY KEY,
	html              TEXT NOT NULL,
	text              TEXT NOT NULL,
	client_updated_at INTEGER NOT NULL,
	saved_at          INTEGER NOT NULL
);`

// SQLiteStore keeps snapshots in an embedded SQLite database. This is
// the default medium: durable across restarts with no external service.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the snapshot database at
// path. Parent directories are created as required.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, documentID string) (Snapshot, bool, error) {
	var snap Snapshot
	var savedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT html, text, client_updated_at, saved_at FROM snapshots WHERE document_id = ?`,
		documentID,
	).Scan(&snap.HTML, &snap.Text, &snap.ClientUpdatedAt, &savedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	snap.SavedAt = msToTime(savedAt)
	return snap, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, documentID string, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (document_id, html, text, client_updated_at, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			html = excluded.html,
			text = excluded.text,
			client_updated_at = excluded.client_updated_at,
			saved_at = excluded.saved_at`,
		documentID, snap.HTML, snap.Text, snap.ClientUpdatedAt, snap.SavedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
