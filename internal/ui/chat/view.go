// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	session "github.com/AsePal/sinosea-chat/internal/chat"
	"github.com/AsePal/sinosea-chat/internal/model"
)

// =============================================================================
// MAIN RENDER
// =============================================================================

// renderChat renders the complete chat view: header, scrollable messages,
// input line and status bar.
func (m Model) renderChat() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.renderHeader()
	input := m.renderInput()
	status := m.renderStatusBar()

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		m.viewport.View(),
		input,
		status,
	)
}

func (m Model) renderHeader() string {
	title := "SinoSEA Chat"
	if id := m.ctl.ConversationID(); id != "" {
		// Server ids can be long opaque strings; keep the header on one line.
		title += "  " + runewidth.Truncate(id, 24, "…")
	}
	return m.theme.Header.Width(m.width).Render(title)
}

// renderMessages renders the conversation transcript for the viewport.
func (m Model) renderMessages() string {
	msgs := m.ctl.Snapshot()

	var b strings.Builder

	// History affordances sit above the oldest message.
	switch {
	case m.ctl.HistoryLoading():
		b.WriteString(m.theme.Muted.Render(m.spinner.View() + " loading earlier messages"))
		b.WriteString("\n\n")
	case m.ctl.HistoryError() != "":
		b.WriteString(m.theme.ErrorText.Render(m.ctl.HistoryError()))
		b.WriteString("\n\n")
	case m.ctl.HistoryHasMore():
		b.WriteString(m.theme.Muted.Render("── PgUp for earlier messages ──"))
		b.WriteString("\n\n")
	}

	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}

	if m.ctl.State() == session.StateBlocked {
		b.WriteString("\n")
		b.WriteString(m.theme.Notice.Render(m.ctl.LoginPrompt()))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderMessage(msg model.Message) string {
	label := m.theme.AssistantLabel.Render("SinoSEA")
	if msg.Role == model.RoleUser {
		label = m.theme.UserLabel.Render("You")
	}
	ts := m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))
	head := label + " " + ts

	if msg.IsStreaming && !msg.HasContent() {
		return head + "\n" + m.theme.Muted.Render(m.spinner.View()+" "+m.ctl.ThinkingText())
	}

	content := msg.Content
	if msg.Role == model.RoleAssistant && !msg.IsStreaming {
		content = m.renderMarkdown(content)
	}
	return head + "\n" + content
}

// renderMarkdown renders assistant markdown for the terminal, falling back to
// the raw text when the renderer is unavailable.
func (m Model) renderMarkdown(content string) string {
	if m.markdown == nil {
		return content
	}
	rendered, err := m.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

func (m Model) renderInput() string {
	sep := m.theme.Separator.Render(strings.Repeat("─", max(m.width, 1)))
	return sep + "\n" + m.theme.InputLine.Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	parts := []string{m.stateLabel()}

	if stats := m.lastTurnStats(); stats != "" {
		parts = append(parts, stats)
	}
	if m.statusMsg != "" {
		parts = append(parts, m.statusMsg)
	}
	parts = append(parts, "ctrl+n new · ctrl+c cancel · ctrl+q quit")

	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  │  "))
}

func (m Model) stateLabel() string {
	switch m.ctl.State() {
	case session.StateSending:
		return m.spinner.View() + " sending"
	case session.StateStreaming:
		return m.spinner.View() + " streaming"
	case session.StateFinalizing:
		return "finalizing"
	case session.StateBlocked:
		return "login required"
	default:
		return "ready"
	}
}

// lastTurnStats summarizes the latency of the most recent assistant reply.
func (m Model) lastTurnStats() string {
	msgs := m.ctl.Snapshot()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != model.RoleAssistant || msgs[i].Stats == nil {
			continue
		}
		s := msgs[i].Stats
		return fmt.Sprintf("first byte %dms · %d chunks · %.1fs",
			s.FirstByte.Milliseconds(), s.DeltaCount, s.Total.Seconds())
	}
	return ""
}
