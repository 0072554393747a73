// Package history persists the local chat timeline so a client can review
// conversations across restarts. Persistence is client-side only; the server
// never stores message content.
package history

import "time"

// Record is one durable timeline entry. ChatID identifies the conversation
// (a room id or a peer user id) and MessageID the message within it.
type Record struct {
	ChatID    string
	MessageID string
	SenderID  string
	Kind      string
	Body      string
	CreatedAt time.Time
}

// Store is the durable timeline. Append is idempotent per (ChatID, MessageID)
// so redelivered messages never duplicate rows.
type Store interface {
	Append(rec Record) error
	List(chatID string, limit int) ([]Record, error)
	Close() error
}

// Nop discards everything. Used when the client runs without a history file.
type Nop struct{}

func (Nop) Append(Record) error { return nil }

func (Nop) List(string, int) ([]Record, error) { return nil, nil }

func (Nop) Close() error { return nil }
