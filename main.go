// SinoSEA chat client - terminal chat for international students.
//
// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AsePal/sinosea-chat/internal/api"
	"github.com/AsePal/sinosea-chat/internal/auth"
	session "github.com/AsePal/sinosea-chat/internal/chat"
	"github.com/AsePal/sinosea-chat/internal/config"
	"github.com/AsePal/sinosea-chat/internal/storage"
	uichat "github.com/AsePal/sinosea-chat/internal/ui/chat"
	"github.com/AsePal/sinosea-chat/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath   string
		baseURL      string
		langCode     string
		loginToken   string
		conversation string
		showVersion  bool
	)
	flag.StringVar(&configPath, "config", "", "config file path (default ~/.sinosea/config.toml)")
	flag.StringVar(&baseURL, "base-url", "", "override the backend base URL")
	flag.StringVar(&langCode, "lang", "", "interface language: en or zh")
	flag.StringVar(&loginToken, "token", "", "store this auth token before starting")
	flag.StringVar(&conversation, "resume", "", "resume the given conversation id")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("sinosea-chat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot resolve home directory: %v\n", err)
			os.Exit(1)
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if langCode != "" {
		cfg.UI.Language = langCode
	}

	// The TUI owns stdout; the standard logger goes to a file next to the
	// config.
	logFile := setupLogging(configPath)
	if logFile != nil {
		defer logFile.Close()
	}

	tokenPath, err := auth.DefaultPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot resolve token path: %v\n", err)
		os.Exit(1)
	}
	tokens := auth.NewTokenStore(tokenPath)
	if loginToken != "" {
		if err := tokens.Set(loginToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot store token: %v\n", err)
			os.Exit(1)
		}
	}

	var cache *storage.TranscriptCache
	if cfg.Cache.Enabled {
		cachePath, cerr := cfg.CachePath()
		if cerr == nil {
			cache, cerr = storage.Open(cachePath)
		}
		if cerr != nil {
			// The cache is an offline convenience, never a startup blocker.
			log.Printf("main: transcript cache disabled: %v", cerr)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	client := api.NewClient(cfg.Backend.BaseURL, tokens)

	ctl := session.NewController(client, tokens, cache, session.Options{
		Lang:          session.ParseLang(cfg.UI.Language),
		FlushInterval: cfg.FlushInterval(),
		Stream: api.StreamOptions{
			FirstByteTimeout: cfg.FirstByteTimeout(),
			IdleTimeout:      cfg.IdleTimeout(),
			TotalTimeout:     cfg.TotalTimeout(),
		},
		PageSize: cfg.History.PageSize,
	})

	view := uichat.New(ctl, styles.NewTheme())
	p := tea.NewProgram(view, tea.WithAltScreen())

	// Controller callbacks run on controller goroutines; forward them into
	// the Bubble Tea loop as messages.
	ctl.SetOnChange(func() {
		p.Send(uichat.SessionChangedMsg{})
	})
	ctl.SetOnConversationID(func(id string) {
		p.Send(uichat.ConversationAssignedMsg{ID: id})
	})
	tokens.OnExpired(func() {
		p.Send(uichat.SessionExpiredMsg{})
	})

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		p.Send(uichat.ConfigReloadedMsg{Config: next})
	})
	if err != nil {
		log.Printf("main: config watcher disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	if conversation != "" {
		ctl.Reset(conversation)
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging redirects the standard logger to a file so controller and
// transport logs never corrupt the terminal UI.
func setupLogging(configPath string) *os.File {
	path := filepath.Join(filepath.Dir(configPath), "client.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		log.SetOutput(os.Stderr)
		return nil
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return f
}
