// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines the Bubble Tea message types used by the chat view.
// The session controller runs outside the Bubble Tea loop; its callbacks are
// forwarded into the program as these messages.
package chat

import "github.com/AsePal/sinosea-chat/internal/config"

// SessionChangedMsg signals that the session controller mutated observable
// state: new snapshot, state transition, history result. The view re-reads
// everything it renders from the controller.
type SessionChangedMsg struct{}

// ConversationAssignedMsg delivers the server-assigned conversation id for
// the first turn of a fresh conversation.
type ConversationAssignedMsg struct {
	ID string
}

// LoadOlderMsg requests one more page of history above the current messages.
type LoadOlderMsg struct{}

// ConfigReloadedMsg delivers a hot-reloaded configuration.
type ConfigReloadedMsg struct {
	Config *config.Config
}

// TokenStoredMsg signals that a login token was saved, unblocking any held
// send.
type TokenStoredMsg struct{}

// SessionExpiredMsg signals that the stored token was rejected by the
// backend.
type SessionExpiredMsg struct{}
