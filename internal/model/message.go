// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversation messages.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/AsePal/sinosea-chat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn entry in the conversation.
//
// LocalID is always present and identifies the entry inside this process;
// it is the reconciliation key used by the stream aggregator. MessageID is
// the server-assigned id and is empty while the entry is optimistic (not yet
// confirmed by a start event or a history fetch).
type Message struct {
	// Identity
	LocalID   string    `json:"local_id"`
	MessageID string    `json:"message_id,omitempty"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content. For assistant messages this grows while streaming.
	Content string `json:"content"`

	// Streaming state (not persisted)
	IsStreaming bool `json:"-"`

	// Stream statistics for finalized assistant messages
	Stats *StreamStats `json:"stats,omitempty"`
}

// NewUserMessage creates an optimistic user message.
func NewUserMessage(content string) *Message {
	return &Message{
		LocalID:   generateLocalID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantPlaceholder creates a streaming assistant placeholder with no
// content yet. The UI renders the "thinking" indicator while IsStreaming is
// set and Content is empty.
func NewAssistantPlaceholder() *Message {
	return &Message{
		LocalID:     generateLocalID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// NewAssistantMessage creates a finalized assistant message, used for the
// welcome script and history merges.
func NewAssistantMessage(content string) *Message {
	return &Message{
		LocalID:   generateLocalID(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// AppendChunk appends flushed delta text to a streaming message.
// No-op once the message has been finalized.
func (m *Message) AppendChunk(text string) {
	if m.IsStreaming {
		m.Content += text
	}
}

// FinalizeStream completes streaming and attaches statistics.
func (m *Message) FinalizeStream(stats *StreamStats) {
	if !m.IsStreaming {
		return
	}
	m.IsStreaming = false
	m.Stats = stats
}

// HasContent reports whether any text has been produced for this message.
func (m *Message) HasContent() bool {
	return m.Content != ""
}

// Preview returns a truncated single-line preview of the message content.
func (m *Message) Preview(maxLen int) string {
	return util.Truncate(util.FirstLine(m.Content), maxLen)
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats holds timing information collected for one streamed turn.
type StreamStats struct {
	FirstByte  time.Duration `json:"first_byte_ns,omitempty"`
	Total      time.Duration `json:"total_ns,omitempty"`
	DeltaCount int           `json:"delta_count,omitempty"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateLocalID creates a process-local message id.
func generateLocalID() string {
	return "local_" + uuid.NewString()
}
