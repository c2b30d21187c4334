package store

import (
	"fmt"
	"time"
)

const migrationV4Metrics = `
CREATE TABLE IF NOT EXISTS metrics (
	agent_name     TEXT PRIMARY KEY,
	capability     TEXT NOT NULL,
	run_id         TEXT,
	started_at     DATETIME NOT NULL,
	terminated_at  DATETIME NOT NULL,
	terminal_state TEXT NOT NULL,
	tokens_used    INTEGER NOT NULL DEFAULT 0,
	cost_usd       REAL NOT NULL DEFAULT 0.0
);
`

// SessionMetrics is one row recorded per terminated session, holding
// timing and cost totals (§6 persisted state layout: "metrics — one
// row per terminated session with timing and token/cost totals").
type SessionMetrics struct {
	AgentName     string
	Capability    string
	RunID         string
	StartedAt     time.Time
	TerminatedAt  time.Time
	TerminalState string
	TokensUsed    int64
	CostUSD       float64
}

// RecordMetrics upserts the metrics row for a terminated session.
func (db *DB) RecordMetrics(m SessionMetrics) error {
	_, err := db.Exec(`
		INSERT INTO metrics (agent_name, capability, run_id, started_at, terminated_at, terminal_state, tokens_used, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			capability = excluded.capability,
			run_id = excluded.run_id,
			terminated_at = excluded.terminated_at,
			terminal_state = excluded.terminal_state,
			tokens_used = excluded.tokens_used,
			cost_usd = excluded.cost_usd
	`, m.AgentName, m.Capability, nullableString(m.RunID), formatTime(m.StartedAt), formatTime(m.TerminatedAt),
		m.TerminalState, m.TokensUsed, m.CostUSD)
	if err != nil {
		return fmt.Errorf("record metrics for %s: %w", m.AgentName, err)
	}
	return nil
}
