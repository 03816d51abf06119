package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/indecryption/chat-node/internal/utils"
)

// Message is one encrypted record in the append-only per-pair history.
// ServerEncrypted marks records sealed with the node's own key pair
// (plaintext-in relay mode); recipients decrypt those against the node
// public key instead of the sender's.
type Message struct {
	ID              string    `json:"id"`
	FromUsername    string    `json:"fromUsername"`
	ToUsername      string    `json:"toUsername"`
	Ciphertext      string    `json:"ciphertext"`
	Nonce           string    `json:"nonce"`
	ServerEncrypted bool      `json:"serverEncrypted,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// MessageManager handles the messages table
type MessageManager struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewMessageManager creates a new message manager and initializes the table
func NewMessageManager(db *sql.DB, logger *utils.LogsManager) (*MessageManager, error) {
	mm := &MessageManager{db: db, logger: logger}
	if err := mm.initTable(); err != nil {
		return nil, err
	}
	return mm, nil
}

func (mm *MessageManager) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_username TEXT NOT NULL,
		to_username TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		nonce TEXT NOT NULL,
		server_encrypted INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_username, to_username, timestamp DESC);
	`

	if _, err := mm.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create messages table: %v", err)
	}

	mm.logger.Debug("messages table initialized", "database")
	return nil
}

// AppendMessage inserts a single record. Each call is an independent
// insert, never read-modify-write, so concurrent relays cannot lose
// appends. Assigns the id and, when unset, the timestamp.
func (mm *MessageManager) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	msg.ID = uuid.New().String()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	query := `
	INSERT INTO messages (id, from_username, to_username, ciphertext, nonce, server_encrypted, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := mm.db.ExecContext(ctx, query,
		msg.ID,
		msg.FromUsername,
		msg.ToUsername,
		msg.Ciphertext,
		msg.Nonce,
		boolToInt(msg.ServerEncrypted),
		msg.Timestamp.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %v", err)
	}

	return msg, nil
}

// QueryBetween returns the `limit` most recent messages exchanged
// between two usernames in either direction, oldest-first
func (mm *MessageManager) QueryBetween(ctx context.Context, usernameA, usernameB string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Fetch newest-first capped to limit, then reverse. rowid breaks
	// ties between same-millisecond appends.
	query := `
	SELECT id, from_username, to_username, ciphertext, nonce, server_encrypted, timestamp
	FROM messages
	WHERE (from_username = ? AND to_username = ?)
	   OR (from_username = ? AND to_username = ?)
	ORDER BY timestamp DESC, rowid DESC
	LIMIT ?
	`

	rows, err := mm.db.QueryContext(ctx, query, usernameA, usernameB, usernameB, usernameA, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %v", err)
	}
	defer rows.Close()

	var newestFirst []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first
	messages := make([]*Message, len(newestFirst))
	for i, msg := range newestFirst {
		messages[len(newestFirst)-1-i] = msg
	}

	return messages, nil
}

// CountBetween returns the total number of messages stored for a pair
func (mm *MessageManager) CountBetween(ctx context.Context, usernameA, usernameB string) (int, error) {
	query := `
	SELECT COUNT(*) FROM messages
	WHERE (from_username = ? AND to_username = ?)
	   OR (from_username = ? AND to_username = ?)
	`

	var count int
	err := mm.db.QueryRowContext(ctx, query, usernameA, usernameB, usernameB, usernameA).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %v", err)
	}

	return count, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var serverEncrypted int
	var timestamp int64

	if err := rows.Scan(
		&msg.ID,
		&msg.FromUsername,
		&msg.ToUsername,
		&msg.Ciphertext,
		&msg.Nonce,
		&serverEncrypted,
		&timestamp,
	); err != nil {
		return nil, fmt.Errorf("failed to scan message: %v", err)
	}

	msg.ServerEncrypted = serverEncrypted != 0
	msg.Timestamp = time.UnixMilli(timestamp)
	return &msg, nil
}
