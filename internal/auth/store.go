// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth provides the bearer token store shared by the API client and
// the session controller.
//
// The store owns the process-wide authentication state with an explicit
// lifecycle (get/set/clear) and a subscription API for the "auth expired"
// notification raised when the backend answers 401. Token validation and
// refresh are backend concerns and out of scope here.
package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/AsePal/sinosea-chat/internal/util"
)

// =============================================================================
// TOKEN STORE
// =============================================================================

// TokenStore holds the bearer token, persisted as a small JSON file so a
// restarted client stays logged in.
type TokenStore struct {
	mu    sync.Mutex
	path  string
	token string

	// Expiry subscribers, invoked on NotifyExpired
	onExpired []func()
}

// tokenFile is the on-disk persistence format.
type tokenFile struct {
	Token string `json:"token"`
}

// DefaultPath returns the default token file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sinosea", "token.json"), nil
}

// NewTokenStore creates a token store backed by the file at path. A missing
// or unreadable file starts the store logged out; it is not an error.
func NewTokenStore(path string) *TokenStore {
	s := &TokenStore{path: path}

	data, err := os.ReadFile(path)
	if err == nil {
		var f tokenFile
		if json.Unmarshal(data, &f) == nil {
			s.token = f.Token
		}
	}
	return s
}

// =============================================================================
// TOKEN LIFECYCLE
// =============================================================================

// Get returns the current token and whether one is present.
func (s *TokenStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Set stores and persists a new token.
func (s *TokenStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	data, err := json.Marshal(tokenFile{Token: token})
	if err != nil {
		return err
	}
	// 0600: the token is a credential
	return util.AtomicWriteFile(s.path, data, 0600)
}

// Clear discards the token in memory and on disk.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// =============================================================================
// EXPIRY NOTIFICATION
// =============================================================================

// OnExpired registers a callback invoked when the session expires (401 from
// the backend). Callbacks run on the goroutine that calls NotifyExpired.
func (s *TokenStore) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = append(s.onExpired, fn)
}

// NotifyExpired fans the expiry event out to all subscribers.
func (s *TokenStore) NotifyExpired() {
	s.mu.Lock()
	subs := make([]func(), len(s.onExpired))
	copy(subs, s.onExpired)
	s.mu.Unlock()

	// Invoked outside the lock: subscribers may call back into the store.
	for _, fn := range subs {
		fn()
	}
}
