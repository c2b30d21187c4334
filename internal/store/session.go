package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jayminwest/overstory/internal/session"
)

const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	agent_name       TEXT NOT NULL UNIQUE,
	capability       TEXT NOT NULL,
	worktree_path    TEXT NOT NULL DEFAULT '',
	branch_name      TEXT NOT NULL DEFAULT '',
	bead_id          TEXT NOT NULL DEFAULT '',
	tmux_session     TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL,
	pid              INTEGER,
	parent_agent     TEXT,
	depth            INTEGER NOT NULL DEFAULT 0,
	run_id           TEXT,
	started_at       DATETIME NOT NULL,
	last_activity    DATETIME NOT NULL,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	stalled_since    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_run_id ON sessions(run_id);
CREATE INDEX IF NOT EXISTS idx_sessions_bead_id ON sessions(bead_id);
`

const sessionColumns = `id, agent_name, capability, worktree_path, branch_name, bead_id, tmux_session,
	state, pid, parent_agent, depth, run_id, started_at, last_activity, escalation_level, stalled_since`

// UpsertSession inserts or replaces a session keyed by agent_name
// (§4.1 Upsert).
func (db *DB) UpsertSession(s *session.Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			id = excluded.id,
			capability = excluded.capability,
			worktree_path = excluded.worktree_path,
			branch_name = excluded.branch_name,
			bead_id = excluded.bead_id,
			tmux_session = excluded.tmux_session,
			state = excluded.state,
			pid = excluded.pid,
			parent_agent = excluded.parent_agent,
			depth = excluded.depth,
			run_id = excluded.run_id,
			started_at = excluded.started_at,
			last_activity = excluded.last_activity,
			escalation_level = excluded.escalation_level,
			stalled_since = excluded.stalled_since
	`,
		s.ID, s.AgentName, s.Capability, s.WorktreePath, s.BranchName, s.BeadID, s.TmuxSession,
		string(s.State), s.PID, s.ParentAgent, s.Depth, s.RunID,
		formatTime(s.StartedAt), formatTime(s.LastActivity), s.EscalationLevel, nullableTimeString(s.StalledSince),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.AgentName, err)
	}
	return nil
}

// GetByName retrieves a session by agent name, or nil if absent.
func (db *DB) GetByName(name string) (*session.Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE agent_name = ?`, name)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// GetByRun returns all sessions tagged with runID.
func (db *DB) GetByRun(runID string) ([]*session.Session, error) {
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("get sessions by run: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// GetAll returns every session.
func (db *DB) GetAll() ([]*session.Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("get all sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// GetActive returns sessions whose state is in {booting, working,
// stalled}, the set session.State.Active describes. The watchdog tick
// does not use this set: it evaluates every non-completed session,
// zombies included.
func (db *DB) GetActive() ([]*session.Session, error) {
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE state IN (?, ?, ?)`,
		string(session.StateBooting), string(session.StateWorking), string(session.StateStalled))
	if err != nil {
		return nil, fmt.Errorf("get active sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// UpdateState is a single-statement atomic write of a session's state.
func (db *DB) UpdateState(name string, st session.State) error {
	_, err := db.Exec(`UPDATE sessions SET state = ? WHERE agent_name = ?`, string(st), name)
	if err != nil {
		return fmt.Errorf("update state for %s: %w", name, err)
	}
	return nil
}

// UpdateLastActivity is a single-statement atomic write of a
// session's last-activity timestamp.
func (db *DB) UpdateLastActivity(name string, when time.Time) error {
	_, err := db.Exec(`UPDATE sessions SET last_activity = ? WHERE agent_name = ?`, formatTime(when), name)
	if err != nil {
		return fmt.Errorf("update last activity for %s: %w", name, err)
	}
	return nil
}

// UpdateEscalation is a single-statement atomic write of a session's
// escalation level and stalled-since timestamp.
func (db *DB) UpdateEscalation(name string, level int, stalledSince *time.Time) error {
	_, err := db.Exec(`UPDATE sessions SET escalation_level = ?, stalled_since = ? WHERE agent_name = ?`,
		level, nullableTimeString(stalledSince), name)
	if err != nil {
		return fmt.Errorf("update escalation for %s: %w", name, err)
	}
	return nil
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var s session.Session
	var pid sql.NullInt64
	var parentAgent, runID sql.NullString
	var startedAt, lastActivity string
	var stalledSince sql.NullString
	var st string

	err := row.Scan(
		&s.ID, &s.AgentName, &s.Capability, &s.WorktreePath, &s.BranchName, &s.BeadID, &s.TmuxSession,
		&st, &pid, &parentAgent, &s.Depth, &runID, &startedAt, &lastActivity, &s.EscalationLevel, &stalledSince,
	)
	if err != nil {
		return nil, err
	}
	s.State = session.State(st)
	if pid.Valid {
		v := int(pid.Int64)
		s.PID = &v
	}
	if parentAgent.Valid {
		v := parentAgent.String
		s.ParentAgent = &v
	}
	if runID.Valid {
		v := runID.String
		s.RunID = &v
	}
	s.StartedAt, _ = parseTime(startedAt)
	s.LastActivity, _ = parseTime(lastActivity)
	s.StalledSince = parseNullableTime(stalledSince)
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*session.Session, error) {
	var out []*session.Session
	for rows.Next() {
		var s session.Session
		var pid sql.NullInt64
		var parentAgent, runID sql.NullString
		var startedAt, lastActivity string
		var stalledSince sql.NullString
		var st string

		if err := rows.Scan(
			&s.ID, &s.AgentName, &s.Capability, &s.WorktreePath, &s.BranchName, &s.BeadID, &s.TmuxSession,
			&st, &pid, &parentAgent, &s.Depth, &runID, &startedAt, &lastActivity, &s.EscalationLevel, &stalledSince,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.State = session.State(st)
		if pid.Valid {
			v := int(pid.Int64)
			s.PID = &v
		}
		if parentAgent.Valid {
			v := parentAgent.String
			s.ParentAgent = &v
		}
		if runID.Valid {
			v := runID.String
			s.RunID = &v
		}
		s.StartedAt, _ = parseTime(startedAt)
		s.LastActivity, _ = parseTime(lastActivity)
		s.StalledSince = parseNullableTime(stalledSince)
		out = append(out, &s)
	}
	return out, rows.Err()
}
