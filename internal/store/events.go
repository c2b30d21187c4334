package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jayminwest/overstory/pkg/models"
)

const migrationV3Events = `
CREATE TABLE IF NOT EXISTS events (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT,
	agent_name       TEXT NOT NULL,
	session_id       TEXT,
	event_type       TEXT NOT NULL,
	tool_name        TEXT,
	tool_args        TEXT,
	tool_duration_ms INTEGER,
	level            TEXT NOT NULL,
	data             TEXT,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
`

// AppendEvent appends a structured event to the durable, append-only
// events log (§6).
func (db *DB) AppendEvent(e models.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var data []byte
	if e.Data != nil {
		var err error
		data, err = json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	_, err := db.Exec(`
		INSERT INTO events (run_id, agent_name, session_id, event_type, tool_name, tool_args, tool_duration_ms, level, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullableString(e.RunID), e.AgentName, nullableString(e.SessionID), e.EventType,
		nullableString(e.ToolName), nullableString(e.ToolArgs), e.ToolDurationMs, string(e.Level),
		string(data), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.EventType, err)
	}
	return nil
}

// EventFilter narrows a ListEvents call.
type EventFilter struct {
	RunID     string
	EventType string
	Limit     int
}

// ListEvents returns events matching f, oldest first.
func (db *DB) ListEvents(f EventFilter) ([]models.Event, error) {
	query := `SELECT run_id, agent_name, session_id, event_type, tool_name, tool_args, tool_duration_ms, level, data, created_at FROM events WHERE 1=1`
	var args []any
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var runID, sessionID, toolName, toolArgs, data sql.NullString
		var toolDurationMs sql.NullInt64
		var level, createdAt string

		if err := rows.Scan(&runID, &e.AgentName, &sessionID, &e.EventType, &toolName, &toolArgs, &toolDurationMs, &level, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.RunID = runID.String
		e.SessionID = sessionID.String
		e.ToolName = toolName.String
		e.ToolArgs = toolArgs.String
		e.ToolDurationMs = toolDurationMs.Int64
		e.Level = models.EventLevel(level)
		if data.Valid && data.String != "" {
			json.Unmarshal([]byte(data.String), &e.Data)
		}
		e.CreatedAt, _ = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
