// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AsePal/sinosea-chat/internal/api"
	"github.com/AsePal/sinosea-chat/internal/auth"
	session "github.com/AsePal/sinosea-chat/internal/chat"
	"github.com/AsePal/sinosea-chat/internal/ui/styles"
)

// stubBackend satisfies the controller's backend without a network.
type stubBackend struct{}

func (stubBackend) SendStream(ctx context.Context, payload api.StreamPayload, opts api.StreamOptions, onEvent func(api.StreamEvent)) (*api.StreamStats, error) {
	return &api.StreamStats{}, nil
}

func (stubBackend) Messages(ctx context.Context, conversationID, firstID string, limit int) (api.MessagePage, error) {
	return api.MessagePage{}, nil
}

func (stubBackend) Conversations(ctx context.Context, limit int, lastID string) (api.ConversationPage, error) {
	return api.ConversationPage{}, nil
}

func newViewModel(t *testing.T) Model {
	t.Helper()
	tokens := auth.NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	ctl := session.NewController(stubBackend{}, tokens, nil, session.Options{})
	return New(ctl, styles.NewTheme())
}

func TestViewBeforeFirstResize(t *testing.T) {
	m := newViewModel(t)
	if got := m.View(); got != "Loading..." {
		t.Errorf("pre-resize view = %q", got)
	}
}

func TestViewRendersLoginNoticeWhenBlocked(t *testing.T) {
	m := newViewModel(t)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = updated.(Model)

	m.ctl.Send("hello") // no token stored: blocks
	updated, _ = m.Update(SessionChangedMsg{})
	m = updated.(Model)

	view := m.View()
	if !strings.Contains(view, m.ctl.LoginPrompt()) {
		t.Error("blocked session does not surface the login prompt")
	}
	if !strings.Contains(view, "login required") {
		t.Error("status bar does not show the blocked state")
	}
}

func TestViewHeaderTruncatesConversationID(t *testing.T) {
	m := newViewModel(t)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 60, Height: 24})
	m = updated.(Model)

	header := m.renderHeader()
	if !strings.Contains(header, "SinoSEA Chat") {
		t.Errorf("header missing title: %q", header)
	}
}

func TestRenderMarkdownFallsBackWithoutRenderer(t *testing.T) {
	m := newViewModel(t)
	m.markdown = nil
	if got := m.renderMarkdown("**bold**"); got != "**bold**" {
		t.Errorf("fallback altered content: %q", got)
	}
}
