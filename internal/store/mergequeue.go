package store

import "fmt"

const migrationV5MergeQueue = `
CREATE TABLE IF NOT EXISTS merge_queue (
	branch      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	tier        INTEGER NOT NULL DEFAULT 0,
	agent_name  TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL
);
`

// MergeQueueEntry is one row of the merge queue named in §6's
// persisted state layout: "entries with branch, status, resolved
// tier". Task decomposition and merge conflict resolution are the
// coordinator/merger agents' own job per §1's Non-goals; this table
// only persists what those external agents report through mail, so
// the dashboard can project merge-queue state read-only.
type MergeQueueEntry struct {
	Branch    string
	Status    string
	Tier      int
	AgentName string
	UpdatedAt string
}

// UpsertMergeQueueEntry inserts or replaces a merge-queue row keyed
// by branch name.
func (db *DB) UpsertMergeQueueEntry(e MergeQueueEntry) error {
	_, err := db.Exec(`
		INSERT INTO merge_queue (branch, status, tier, agent_name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(branch) DO UPDATE SET
			status = excluded.status,
			tier = excluded.tier,
			agent_name = excluded.agent_name,
			updated_at = excluded.updated_at
	`, e.Branch, e.Status, e.Tier, e.AgentName, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert merge queue entry %s: %w", e.Branch, err)
	}
	return nil
}

// ListMergeQueue returns every merge-queue entry.
func (db *DB) ListMergeQueue() ([]MergeQueueEntry, error) {
	rows, err := db.Query(`SELECT branch, status, tier, agent_name, updated_at FROM merge_queue`)
	if err != nil {
		return nil, fmt.Errorf("list merge queue: %w", err)
	}
	defer rows.Close()

	var out []MergeQueueEntry
	for rows.Next() {
		var e MergeQueueEntry
		if err := rows.Scan(&e.Branch, &e.Status, &e.Tier, &e.AgentName, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan merge queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
