// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	session "github.com/AsePal/sinosea-chat/internal/chat"
	"github.com/AsePal/sinosea-chat/internal/ui/styles"
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view. It renders snapshots of
// the session controller and translates key presses into controller calls;
// it never owns conversation state itself.
type Model struct {
	ctl   *session.Controller
	theme *styles.Theme

	width  int
	height int
	ready  bool

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// markdown renders assistant messages; rebuilt on resize for word wrap.
	// nil falls back to plain text.
	markdown *glamour.TermRenderer

	statusMsg string
}

// New creates the chat view bound to ctl.
func New(ctl *session.Controller, theme *styles.Theme) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about visas, housing, courses..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	return Model{
		ctl:      ctl,
		theme:    theme,
		viewport: vp,
		input:    ti,
		spinner:  sp,
		markdown: newMarkdownRenderer(78),
	}
}

// newMarkdownRenderer builds a glamour renderer wrapped to width.
func newMarkdownRenderer(width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init initializes the chat view.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, func() tea.Msg {
		m.ctl.PlayWelcome()
		return SessionChangedMsg{}
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionChangedMsg:
		stick := m.viewport.AtBottom()
		m.refreshViewport()
		if stick {
			m.viewport.GotoBottom()
		}
		return m, nil

	case ConversationAssignedMsg:
		m.statusMsg = "conversation " + msg.ID
		return m, nil

	case LoadOlderMsg:
		ctl := m.ctl
		return m, func() tea.Msg {
			ctl.LoadHistory(false)
			return SessionChangedMsg{}
		}

	case ConfigReloadedMsg:
		m.ctl.SetLanguage(session.ParseLang(msg.Config.UI.Language))
		return m, nil

	case TokenStoredMsg:
		ctl := m.ctl
		return m, func() tea.Msg {
			ctl.Authenticated()
			return SessionChangedMsg{}
		}

	case SessionExpiredMsg:
		m.statusMsg = m.ctl.LoginPrompt()
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.ctl.Loading() || m.ctl.HistoryLoading() {
			// Streaming bubble embeds the spinner frame.
			m.refreshViewport()
		}
		return m, cmd

	default:
		var cmds []tea.Cmd
		var inputCmd tea.Cmd
		m.input, inputCmd = m.input.Update(msg)
		cmds = append(cmds, inputCmd)

		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)

		return m, tea.Batch(cmds...)
	}
}

// View renders the chat view.
func (m Model) View() string {
	return m.renderChat()
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = true

	// header + input area + status bar
	const reservedHeight = 4
	vpHeight := m.height - reservedHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight

	inputWidth := m.width - 6
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.input.Width = inputWidth

	m.markdown = newMarkdownRenderer(m.width - 6)
	m.refreshViewport()

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, vpCmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+q":
		return m, tea.Quit

	case "ctrl+c":
		if m.ctl.Loading() {
			m.ctl.Cancel()
			return m, nil
		}
		return m, tea.Quit

	case "esc":
		if m.ctl.Loading() {
			m.ctl.Cancel()
		}
		return m, nil

	case "ctrl+n":
		m.ctl.Reset("")
		m.statusMsg = ""
		return m, func() tea.Msg { return SessionChangedMsg{} }

	case "ctrl+o":
		if m.ctl.HistoryHasMore() && !m.ctl.HistoryLoading() {
			return m, func() tea.Msg { return LoadOlderMsg{} }
		}
		return m, nil

	case "pgup":
		// Paging past the top pulls one more page of history.
		if m.viewport.AtTop() && m.ctl.HistoryHasMore() && !m.ctl.HistoryLoading() {
			return m, func() tea.Msg { return LoadOlderMsg{} }
		}
		m.viewport.HalfViewUp()
		return m, nil

	case "pgdown":
		m.viewport.HalfViewDown()
		return m, nil

	case "up":
		m.viewport.LineUp(1)
		return m, nil

	case "down":
		m.viewport.LineDown(1)
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		ctl := m.ctl
		return m, func() tea.Msg {
			ctl.Send(text)
			return SessionChangedMsg{}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// refreshViewport re-renders the message list into the viewport.
func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
}
