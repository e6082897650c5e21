// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the shared lipgloss theme for the TUI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Core palette. Adaptive colors pick the variant for the detected terminal
// background.
var (
	Teal      = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	Violet    = lipgloss.AdaptiveColor{Light: "#6D28D9", Dark: "#A78BFA"}
	Red       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	Amber     = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	TextMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	Surface   = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#1F2937"}
)

// Theme bundles the styles the chat view renders with.
type Theme struct {
	DarkBackground bool

	Header    lipgloss.Style
	StatusBar lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Timestamp      lipgloss.Style
	Muted          lipgloss.Style
	ErrorText      lipgloss.Style
	Notice         lipgloss.Style

	InputLine lipgloss.Style
	Separator lipgloss.Style
}

// NewTheme builds the default theme for the current terminal.
func NewTheme() *Theme {
	return &Theme{
		DarkBackground: termenv.HasDarkBackground(),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(Teal).
			Background(Surface).
			Padding(0, 1),

		StatusBar: lipgloss.NewStyle().
			Foreground(TextMuted).
			Background(Surface).
			Padding(0, 1),

		UserLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(Violet),

		AssistantLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(Teal),

		Timestamp: lipgloss.NewStyle().
			Foreground(TextMuted),

		Muted: lipgloss.NewStyle().
			Foreground(TextMuted),

		ErrorText: lipgloss.NewStyle().
			Foreground(Red),

		Notice: lipgloss.NewStyle().
			Foreground(Amber),

		InputLine: lipgloss.NewStyle().
			Padding(0, 1),

		Separator: lipgloss.NewStyle().
			Foreground(Surface),
	}
}
