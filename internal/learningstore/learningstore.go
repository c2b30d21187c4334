// Package learningstore is the default collab.LearningStore: a small
// SQLite-backed append-only log of structured failure records,
// following the same modernc.org/sqlite wrapper shape as
// internal/store but scoped to a single table, since the learning
// store is a standalone external collaborator ("mulch") rather than
// part of the coordination core's own schema.
package learningstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jayminwest/overstory/internal/collab"
)

// Store appends collab.LearningRecord entries to a local SQLite file.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the learning database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create learning store directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS learning_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	domain        TEXT NOT NULL,
	type          TEXT NOT NULL,
	description   TEXT NOT NULL,
	tags          TEXT NOT NULL DEFAULT '',
	evidence_bead TEXT,
	recorded_at   TEXT NOT NULL
);`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate learning store: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Record appends rec. It is fire-and-forget from the caller's
// perspective: callers in the watchdog log and swallow any error
// rather than aborting a tick.
func (s *Store) Record(ctx context.Context, rec collab.LearningRecord) error {
	var evidence sql.NullString
	if rec.EvidenceBead != "" {
		evidence = sql.NullString{String: rec.EvidenceBead, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO learning_records (domain, type, description, tags, evidence_bead, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Domain, rec.Type, rec.Description, strings.Join(rec.Tags, ","), evidence,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record learning entry: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
