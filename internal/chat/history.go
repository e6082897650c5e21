// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log"
	"time"

	"github.com/AsePal/sinosea-chat/internal/api"
	"github.com/AsePal/sinosea-chat/internal/model"
)

// historyFetchTimeout bounds one history page request.
const historyFetchTimeout = 15 * time.Second

// =============================================================================
// HISTORY PAGER
// =============================================================================

// LoadHistory fetches one page of past messages for the current
// conversation. reset replaces the message list with the most recent page;
// otherwise the page preceding the oldest loaded message is prepended, using
// its server id as the cursor.
//
// Single-flight: a call while another is outstanding is a no-op. Failures
// never touch the existing messages; they surface through HistoryError.
// Prepending targets the head of the list while an in-flight stream appends
// at the tail by local id, so the two never collide.
func (c *Controller) LoadHistory(reset bool) {
	c.mu.Lock()
	if c.historyLoading {
		c.mu.Unlock()
		return
	}
	convID := c.conversationID
	if convID == "" {
		c.mu.Unlock()
		return
	}

	firstID := ""
	if !reset {
		firstID = c.oldestServerIDLocked()
		if firstID == "" {
			// Nothing server-confirmed to page before.
			c.mu.Unlock()
			return
		}
	}

	c.historyLoading = true
	c.historyError = ""
	pageSize := c.opts.PageSize
	c.mu.Unlock()
	c.notify()

	ctx, cancel := context.WithTimeout(context.Background(), historyFetchTimeout)
	page, err := c.backend.Messages(ctx, convID, firstID, pageSize)
	cancel()

	c.mu.Lock()
	c.historyLoading = false
	if err != nil {
		c.historyError = table(c.lang).ErrHistory
		c.mu.Unlock()
		c.notify()
		log.Printf("chat: history fetch failed: %v", err)
		return
	}

	incoming := historyToMessages(page.Items)
	if reset {
		c.messages = incoming
	} else {
		c.messages = append(incoming, c.messages...)
	}
	c.historyHasMore = page.HasMore
	cache := c.cache
	c.mu.Unlock()

	if reset && cache != nil {
		if cerr := cache.ReplaceConversation(convID, incoming); cerr != nil {
			log.Printf("chat: transcript cache sync failed: %v", cerr)
		}
	}
	c.notify()
}

// HistoryLoading reports whether a history fetch is outstanding.
func (c *Controller) HistoryLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyLoading
}

// HistoryHasMore reports whether older pages remain on the server.
func (c *Controller) HistoryHasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyHasMore
}

// HistoryError returns the translated error from the last failed fetch, or
// empty. Cleared when the next fetch starts.
func (c *Controller) HistoryError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyError
}

// oldestServerIDLocked returns the pagination cursor: the server id of the
// oldest loaded message that has one. Optimistic entries have none and are
// skipped.
func (c *Controller) oldestServerIDLocked() string {
	for _, m := range c.messages {
		if m.MessageID != "" {
			return m.MessageID
		}
	}
	return ""
}

// historyToMessages converts history DTOs into message entries. Pages arrive
// oldest-first; order is preserved. Roles outside the contract are dropped.
func historyToMessages(items []api.HistoryMessage) []*model.Message {
	out := make([]*model.Message, 0, len(items))
	for _, item := range items {
		var msg *model.Message
		switch model.Role(item.Role) {
		case model.RoleUser:
			msg = model.NewUserMessage(item.Content)
		case model.RoleAssistant:
			msg = model.NewAssistantMessage(item.Content)
		default:
			continue
		}
		msg.MessageID = item.ID
		out = append(out, msg)
	}
	return out
}
