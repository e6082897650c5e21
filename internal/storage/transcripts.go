// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local transcript cache.
//
// Finalized turns are written per conversation so the most recent transcript
// is readable while offline. The cache is never authoritative: a history
// reload from the backend replaces it wholesale.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/AsePal/sinosea-chat/internal/model"
)

// schema creates the cache tables.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	local_id        TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, local_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_conv_time
	ON messages (conversation_id, created_at);
`

// =============================================================================
// TRANSCRIPT CACHE
// =============================================================================

// TranscriptCache persists finalized turns in a local sqlite database.
type TranscriptCache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*TranscriptCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &TranscriptCache{db: db}, nil
}

// Close releases the database.
func (c *TranscriptCache) Close() error {
	return c.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// AppendTurn records one finalized turn (user message plus assistant reply).
func (c *TranscriptCache) AppendTurn(conversationID string, user, assistant *model.Message) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, msg := range []*model.Message{user, assistant} {
		if msg == nil {
			continue
		}
		if err := insertMessage(tx, conversationID, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceConversation drops the cached transcript for conversationID and
// replaces it with msgs, preserving their order.
func (c *TranscriptCache) ReplaceConversation(conversationID string, msgs []*model.Message) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := insertMessage(tx, conversationID, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertMessage writes one message inside tx. Timestamps are stored at
// nanosecond precision so transcript order survives sub-second turns.
func insertMessage(tx *sql.Tx, conversationID string, msg *model.Message) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO messages
			(conversation_id, message_id, local_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, msg.MessageID, msg.LocalID, string(msg.Role), msg.Content,
		msg.Timestamp.UnixNano(),
	)
	return err
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Transcript returns up to limit cached messages for conversationID,
// oldest-first.
func (c *TranscriptCache) Transcript(conversationID string, limit int) ([]*model.Message, error) {
	rows, err := c.db.Query(
		`SELECT message_id, local_id, role, content, created_at
		 FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		 ) ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var msg model.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.MessageID, &msg.LocalID, &role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, createdAt)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// Conversations lists the distinct conversation ids in the cache, most
// recently touched first.
func (c *TranscriptCache) Conversations() ([]string, error) {
	rows, err := c.db.Query(
		`SELECT conversation_id FROM messages
		 GROUP BY conversation_id
		 ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
