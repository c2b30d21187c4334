package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jayminwest/overstory/internal/mailmodel"
)

const migrationV2Mail = `
CREATE TABLE IF NOT EXISTS mail (
	id         TEXT PRIMARY KEY,
	from_agent TEXT NOT NULL,
	to_agent   TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	priority   TEXT NOT NULL,
	type       TEXT NOT NULL,
	thread_id  TEXT,
	payload    TEXT,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mail_to ON mail(to_agent);
CREATE INDEX IF NOT EXISTS idx_mail_from ON mail(from_agent);
CREATE INDEX IF NOT EXISTS idx_mail_thread ON mail(thread_id);
CREATE INDEX IF NOT EXISTS idx_mail_created_at ON mail(created_at);
`

const mailColumns = `id, from_agent, to_agent, subject, body, priority, type, thread_id, payload, read, created_at`

// InsertMail persists a single already-resolved message (no group
// addresses). It is the low-level write the mail broker's Send calls
// once per resolved recipient.
func (db *DB) InsertMail(m *mailmodel.Message) error {
	_, err := db.Exec(`
		INSERT INTO mail (`+mailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.From, m.To, m.Subject, m.Body, string(m.Priority), string(m.Type),
		m.ThreadID, m.Payload, boolToInt(m.Read), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert mail %s: %w", m.ID, err)
	}
	return nil
}

// GetMail retrieves a single message by id, or nil if absent.
func (db *DB) GetMail(id string) (*mailmodel.Message, error) {
	row := db.QueryRow(`SELECT `+mailColumns+` FROM mail WHERE id = ?`, id)
	m, err := scanMail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MarkMailRead marks id as read, idempotently. Returns whether the
// message was already read before this call (§4.2 MarkRead).
func (db *DB) MarkMailRead(id string) (alreadyRead bool, err error) {
	err = db.Transaction(func(tx *sql.Tx) error {
		var read int
		row := tx.QueryRow(`SELECT read FROM mail WHERE id = ?`, id)
		if scanErr := row.Scan(&read); scanErr != nil {
			return scanErr
		}
		alreadyRead = read != 0
		if alreadyRead {
			return nil
		}
		_, execErr := tx.Exec(`UPDATE mail SET read = 1 WHERE id = ?`, id)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("mark mail read %s: %w", id, err)
	}
	return alreadyRead, nil
}

// CheckMail returns all unread messages addressed to agent and marks
// them read atomically with the fetch, within a single transaction —
// the durability guarantee of §5 that Check cannot double-deliver.
func (db *DB) CheckMail(agent string) ([]*mailmodel.Message, error) {
	var out []*mailmodel.Message
	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT `+mailColumns+` FROM mail WHERE to_agent = ? AND read = 0 ORDER BY created_at ASC`, agent)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			m, err := scanMailRows(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, m)
			ids = append(ids, m.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE mail SET read = 1 WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check mail for %s: %w", agent, err)
	}
	return out, nil
}

// GetUnreadMail returns unread messages addressed to agent without
// marking them read.
func (db *DB) GetUnreadMail(agent string) ([]*mailmodel.Message, error) {
	rows, err := db.Query(`SELECT `+mailColumns+` FROM mail WHERE to_agent = ? AND read = 0 ORDER BY created_at ASC`, agent)
	if err != nil {
		return nil, fmt.Errorf("get unread mail for %s: %w", agent, err)
	}
	defer rows.Close()
	return scanMailSlice(rows)
}

// MailFilter narrows a List call (§4.2).
type MailFilter struct {
	From    string
	To      string
	Agent   string // matches either endpoint of the conversation
	Unread  *bool
	Limit   int
	ThreadID string
}

// ListMail returns a filtered, read-only view ordered by created_at.
func (db *DB) ListMail(f MailFilter) ([]*mailmodel.Message, error) {
	query := `SELECT ` + mailColumns + ` FROM mail WHERE 1=1`
	var args []any

	if f.From != "" {
		query += ` AND from_agent = ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		query += ` AND to_agent = ?`
		args = append(args, f.To)
	}
	if f.Agent != "" {
		query += ` AND (from_agent = ? OR to_agent = ?)`
		args = append(args, f.Agent, f.Agent)
	}
	if f.ThreadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, f.ThreadID)
	}
	if f.Unread != nil {
		query += ` AND read = ?`
		args = append(args, boolToInt(!*f.Unread))
	}
	query += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mail: %w", err)
	}
	defer rows.Close()
	return scanMailSlice(rows)
}

// PurgeFilter narrows a Purge call (§4.2).
type PurgeFilter struct {
	All         bool
	OlderThanMs int64
	Agent       string
}

// PurgeMail deletes messages matching f and returns the count removed.
func (db *DB) PurgeMail(f PurgeFilter) (int64, error) {
	if f.All {
		res, err := db.Exec(`DELETE FROM mail`)
		if err != nil {
			return 0, fmt.Errorf("purge all mail: %w", err)
		}
		return res.RowsAffected()
	}

	query := `DELETE FROM mail WHERE 1=1`
	var args []any
	if f.Agent != "" {
		query += ` AND (from_agent = ? OR to_agent = ?)`
		args = append(args, f.Agent, f.Agent)
	}
	if f.OlderThanMs > 0 {
		cutoff := time.Now().Add(-time.Duration(f.OlderThanMs) * time.Millisecond)
		query += ` AND created_at < ?`
		args = append(args, formatTime(cutoff))
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge mail: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanMail(row *sql.Row) (*mailmodel.Message, error) {
	return scanMailRows(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMailRows(rows rowScanner) (*mailmodel.Message, error) {
	var m mailmodel.Message
	var threadID, payload sql.NullString
	var read int
	var priority, typ, createdAt string

	if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Subject, &m.Body, &priority, &typ, &threadID, &payload, &read, &createdAt); err != nil {
		return nil, err
	}
	m.Priority = mailmodel.Priority(priority)
	m.Type = mailmodel.Type(typ)
	if threadID.Valid {
		v := threadID.String
		m.ThreadID = &v
	}
	if payload.Valid {
		v := payload.String
		m.Payload = &v
	}
	m.Read = read != 0
	m.CreatedAt, _ = parseTime(createdAt)
	return &m, nil
}

func scanMailSlice(rows *sql.Rows) ([]*mailmodel.Message, error) {
	var out []*mailmodel.Message
	for rows.Next() {
		m, err := scanMailRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
