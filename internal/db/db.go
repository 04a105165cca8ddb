// Package db is the local sqlite cache of discovered work items. It lets
// status commands answer "what was found last time" without hitting the
// forge, and gives the orchestrator a record of what each run scheduled.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps two connections: a single-connection writer so sqlite never
// sees two concurrent writers from this process, and a reader pool.
type Store struct {
	Writer *sql.DB
	Reader *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open db reader: %w", err)
	}

	s := &Store{Writer: writer, Reader: reader}
	if err := s.createSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	rerr := s.Reader.Close()
	werr := s.Writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS work_items (
    repo          TEXT NOT NULL,
    kind          TEXT NOT NULL CHECK(kind IN ('issue', 'pr')),
    number        INTEGER NOT NULL CHECK(number > 0),
    title         TEXT NOT NULL,
    labels_json   TEXT NOT NULL DEFAULT '[]',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    draft         INTEGER NOT NULL DEFAULT 0 CHECK(draft IN (0,1)),
    score         INTEGER NOT NULL DEFAULT 0,
    level         TEXT NOT NULL CHECK(level IN ('low','normal','high','critical')),
    run_id        TEXT NOT NULL,
    discovered_at TEXT NOT NULL,
    PRIMARY KEY(repo, kind, number)
);

CREATE INDEX IF NOT EXISTS idx_work_items_run ON work_items(run_id);
CREATE INDEX IF NOT EXISTS idx_work_items_level ON work_items(level);

CREATE TABLE IF NOT EXISTS sync_cursors (
    owner          TEXT PRIMARY KEY,
    last_synced_at TEXT NOT NULL
);
`

func (s *Store) createSchema() error {
	if _, err := s.Writer.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var count int
	if err := s.Writer.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.Writer.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	}
	return nil
}
