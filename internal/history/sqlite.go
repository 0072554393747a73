package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	chat_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages (chat_id, created_at);
`

// SQLite stores the timeline in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) the history database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// The driver serializes access; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (chat_id, message_id, sender_id, kind, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chat_id, message_id) DO NOTHING`,
		rec.ChatID, rec.MessageID, rec.SenderID, rec.Kind, rec.Body, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

func (s *SQLite) List(chatID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT chat_id, message_id, sender_id, kind, body, created_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY created_at DESC, message_id DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var createdAt int64
		if err := rows.Scan(&rec.ChatID, &rec.MessageID, &rec.SenderID, &rec.Kind, &rec.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; return oldest-first for display.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
