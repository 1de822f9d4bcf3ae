// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteConversation persists conversation history in SQLite, surviving
// process restarts. The caller owns the *sql.DB.
type SQLiteConversation struct {
	db     *sql.DB
	config Config
}

// OpenSQLite opens (or creates) a SQLite database at path for conversation
// storage.
func OpenSQLite(path string, config Config) (*SQLiteConversation, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteConversation(db, config)
}

// NewSQLiteConversation creates a SQLite-backed conversation store and
// ensures the schema.
func NewSQLiteConversation(db *sql.DB, config Config) (*SQLiteConversation, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureConversationSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteConversation{db: db, config: config}, nil
}

// Append adds a message to the session's history.
func (s *SQLiteConversation) Append(ctx context.Context, sessionID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (
			id, session_id, role, content, tool_call_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		sessionID,
		msg.Role,
		msg.Content,
		msg.ToolCallID,
		metadata,
		msg.CreatedAt,
	)
	return err
}

// Messages retrieves all messages for a session, ordered by creation time.
func (s *SQLiteConversation) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_call_id, metadata, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg      Message
			metadata sql.NullString
			created  sql.NullTime
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Role,
			&msg.Content,
			&msg.ToolCallID,
			&metadata,
			&created,
		); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for message %s: %w", msg.ID, err)
			}
		}
		if created.Valid {
			msg.CreatedAt = created.Time
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.config.TruncationStrategy != nil && len(messages) > 0 {
		return s.config.TruncationStrategy.Truncate(ctx, messages)
	}
	return messages, nil
}

// Clear removes all messages for a session.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the underlying database.
func (s *SQLiteConversation) Close() error {
	return s.db.Close()
}

// encodeMetadata serializes message metadata for storage. Empty maps are
// stored as NULL.
func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func ensureConversationSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			tool_call_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_messages(session_id);
	`)
	return err
}
