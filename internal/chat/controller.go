// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the streaming chat session: the send state
// machine, the delta aggregator, the history pager and the user-facing
// string table.
//
// The controller owns the message list. The surrounding UI reads snapshots
// and calls Send/LoadHistory/Reset; it never mutates messages itself.
package chat

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AsePal/sinosea-chat/internal/api"
	"github.com/AsePal/sinosea-chat/internal/auth"
	"github.com/AsePal/sinosea-chat/internal/model"
	"github.com/AsePal/sinosea-chat/internal/storage"
	"github.com/AsePal/sinosea-chat/internal/util"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is the slice of the API client the controller depends on.
// *api.Client satisfies it; tests substitute a scripted fake.
type Backend interface {
	SendStream(ctx context.Context, payload api.StreamPayload, opts api.StreamOptions, onEvent func(api.StreamEvent)) (*api.StreamStats, error)
	Messages(ctx context.Context, conversationID, firstID string, limit int) (api.MessagePage, error)
	Conversations(ctx context.Context, limit int, lastID string) (api.ConversationPage, error)
}

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the controller's send state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFinalizing
	// StateBlocked: an unauthenticated send was intercepted; the text is
	// held for replay after login.
	StateBlocked
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Controller.
type Options struct {
	Lang          Lang
	FlushInterval time.Duration     // aggregator cadence, default 50ms
	Stream        api.StreamOptions // watchdog timeouts for each send
	PageSize      int               // history page size, default 20
	WelcomeDelay  time.Duration     // delay before the second guest line
}

func (o Options) withDefaults() Options {
	if o.Lang == "" {
		o.Lang = LangEnglish
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 50 * time.Millisecond
	}
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.WelcomeDelay <= 0 {
		o.WelcomeDelay = 800 * time.Millisecond
	}
	return o
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller orchestrates one chat session: optimistic message insertion,
// the streaming send lifecycle, welcome playback and history merging.
//
// Sends are single-flight. Every asynchronous callback carries the
// generation current when its send began and re-checks it before touching
// shared state, so a superseded turn's late events cannot mutate the list.
type Controller struct {
	backend Backend
	tokens  *auth.TokenStore
	cache   *storage.TranscriptCache // nil disables the transcript cache
	opts    Options

	mu             sync.Mutex
	lang           Lang
	state          State
	messages       []*model.Message
	conversationID string
	activeLocalID  string
	generation     int
	cancel         context.CancelFunc
	pendingText    string

	// History pager state (history.go)
	historyLoading bool
	historyHasMore bool
	historyError   string

	// Welcome playback, keyed by "lang|authed"
	welcomePlayed map[string]bool

	onChange         func()
	onConversationID func(string)
}

// NewController creates a controller. cache may be nil.
func NewController(backend Backend, tokens *auth.TokenStore, cache *storage.TranscriptCache, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		backend:       backend,
		tokens:        tokens,
		cache:         cache,
		opts:          opts,
		lang:          opts.Lang,
		state:         StateIdle,
		welcomePlayed: make(map[string]bool),
	}
}

// SetOnChange registers the callback invoked after every observable state
// change. Called from controller goroutines; keep it cheap.
func (c *Controller) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// SetOnConversationID registers the callback invoked once when the server
// assigns this session's conversation id.
func (c *Controller) SetOnConversationID(fn func(string)) {
	c.mu.Lock()
	c.onConversationID = fn
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// ACCESSORS (for the UI collaborator)
// =============================================================================

// Snapshot returns a copy of the message list for rendering.
func (c *Controller) Snapshot() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// State returns the current send state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether a send is in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSending || c.state == StateStreaming || c.state == StateFinalizing
}

// ConversationID returns the server-assigned conversation id, or empty.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// ActiveMessageID returns the local id of the assistant message currently
// receiving flushes, or empty.
func (c *Controller) ActiveMessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocalID
}

// PendingText returns the text held back by a blocked send.
func (c *Controller) PendingText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingText
}

// ThinkingText returns the placeholder text for a streaming bubble with no
// content yet.
func (c *Controller) ThinkingText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return table(c.lang).Thinking
}

// LoginPrompt returns the string shown while the controller is blocked.
func (c *Controller) LoginPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return table(c.lang).LoginNeeded
}

// =============================================================================
// SEND
// =============================================================================

// Send dispatches one user message. Fire-and-forget: progress is observable
// through Snapshot and Loading. Blank text is a no-op; an unauthenticated
// send moves the controller to StateBlocked and keeps the text for replay
// after login. Sending while a reply is still in flight preempts it: the
// old call is cancelled, its placeholder is finalized with whatever text
// has arrived (or removed when empty), and the new turn takes over.
func (c *Controller) Send(text string) {
	if util.IsBlank(text) {
		return
	}
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if _, ok := c.tokens.Get(); !ok {
		c.state = StateBlocked
		c.pendingText = text
		c.mu.Unlock()
		c.notify()
		return
	}

	// A new send always wins over any call that has not finalized yet.
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.activeLocalID != "" {
		if stale := c.findLocalLocked(c.activeLocalID); stale != nil {
			if stale.HasContent() {
				stale.FinalizeStream(nil)
			} else {
				c.removeLocalLocked(stale.LocalID)
			}
		}
		c.activeLocalID = ""
	}
	c.generation++
	gen := c.generation

	user := model.NewUserMessage(text)
	placeholder := model.NewAssistantPlaceholder()
	c.messages = append(c.messages, user, placeholder)
	c.activeLocalID = placeholder.LocalID
	c.state = StateSending
	c.pendingText = ""

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	convID := c.conversationID
	agg := NewAggregator(placeholder.LocalID, c.opts.FlushInterval, c.applyFlush(gen))
	c.mu.Unlock()

	c.notify()
	go c.run(ctx, cancel, gen, convID, text, user, placeholder, agg)
}

// applyFlush returns the aggregator sink for one send. The sink re-checks
// the generation and the active message id under the lock before mutating,
// so flushes from a superseded turn are dropped, not misapplied.
func (c *Controller) applyFlush(gen int) func(localID, text string) {
	return func(localID, text string) {
		c.mu.Lock()
		if gen != c.generation || localID != c.activeLocalID {
			c.mu.Unlock()
			return
		}
		if msg := c.findLocalLocked(localID); msg != nil {
			msg.AppendChunk(text)
		}
		c.mu.Unlock()
		c.notify()
	}
}

// run drives one transport call to its terminal outcome.
func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, gen int, convID, text string, user, placeholder *model.Message, agg *Aggregator) {
	payload := api.StreamPayload{Message: text, ConversationID: convID}

	stats, err := c.backend.SendStream(ctx, payload, c.opts.Stream, func(ev api.StreamEvent) {
		switch ev.Type {
		case api.EventStart, api.EventEnd:
			c.captureIdentity(gen, placeholder.LocalID, ev)
		case api.EventDelta:
			agg.Append(ev.Text)
		}
	})

	cancel()
	c.finalize(gen, user, placeholder, agg, stats, err)
}

// captureIdentity handles start and end events: state transition, server
// message id reconciliation and conversation-identity capture.
func (c *Controller) captureIdentity(gen int, localID string, ev api.StreamEvent) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.state == StateSending {
		c.state = StateStreaming
	}
	if msg := c.findLocalLocked(localID); msg != nil && msg.MessageID == "" {
		msg.MessageID = ev.MessageID
	}

	var announce func(string)
	if c.conversationID == "" && ev.ConversationID != "" {
		// First turn of a new conversation: capture and publish the
		// server-assigned identity. Immutable from here on.
		c.conversationID = ev.ConversationID
		announce = c.onConversationID
	}
	id := c.conversationID
	c.mu.Unlock()

	if announce != nil {
		announce(id)
	}
	c.notify()
}

// finalize is the single exit path for a send: final flush, error
// translation, transcript caching and release of the busy state.
func (c *Controller) finalize(gen int, user, placeholder *model.Message, agg *Aggregator, stats *api.StreamStats, err error) {
	// Final flush happens outside the lock on every path; the sink itself
	// drops text from superseded turns.
	agg.Close()

	c.mu.Lock()
	if gen != c.generation {
		// Superseded by a newer send or a reset; that operation owns the
		// state now.
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing

	var mstats *model.StreamStats
	if stats != nil {
		mstats = &model.StreamStats{
			FirstByte:  stats.FirstByte,
			Total:      stats.Total,
			DeltaCount: stats.DeltaCount,
		}
	}

	discarded := false
	sessionExpired := false
	if err != nil {
		se := api.AsStreamError(err)
		if se != nil && se.Kind == api.KindHTTPError && se.Status == 401 {
			// The streaming POST bypasses the REST helper, so the
			// expired notification is raised here.
			sessionExpired = true
		}
		switch {
		case se != nil && se.Kind == api.KindAborted && se.Cause == api.CauseExternal:
			// Externally canceled: silent. Keep whatever partial text
			// was flushed, drop an empty placeholder entirely.
			if !placeholder.HasContent() {
				c.removeLocalLocked(placeholder.LocalID)
				discarded = true
			}
		case !placeholder.HasContent():
			placeholder.Content = translateStreamError(c.lang, err)
		default:
			// A truncated real answer beats an opaque error: keep the
			// partial content as-is.
		}
		if se != nil {
			log.Printf("chat: send failed: kind=%s cause=%s", se.Kind, se.Cause)
		}
	}

	if !discarded {
		placeholder.FinalizeStream(mstats)
	}
	c.activeLocalID = ""
	c.cancel = nil
	c.state = StateIdle

	convID := c.conversationID
	cache := c.cache
	c.mu.Unlock()

	if sessionExpired {
		c.tokens.Clear()
		c.tokens.NotifyExpired()
	}
	if cache != nil && convID != "" && !discarded && err == nil {
		if cerr := cache.AppendTurn(convID, user, placeholder); cerr != nil {
			log.Printf("chat: transcript cache write failed: %v", cerr)
		}
	}
	c.notify()
}

// Cancel aborts the in-flight send, if any. The turn finalizes through the
// external-abort path: silent, partial content kept.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// AUTHENTICATION TRANSITIONS
// =============================================================================

// Authenticated tells the controller a login just completed. A send blocked
// on authentication is replayed with its held text.
func (c *Controller) Authenticated() {
	c.mu.Lock()
	pending := c.pendingText
	c.pendingText = ""
	if c.state == StateBlocked {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if pending != "" {
		c.Send(pending)
		return
	}
	c.PlayWelcome()
}

// =============================================================================
// WELCOME SEQUENCE
// =============================================================================

// PlayWelcome synthesizes the scripted greeting without contacting the
// backend: one line when authenticated, two (second delayed) when not.
// Replayed at most once per distinct (authenticated, language) combination,
// and only while the user has not yet sent anything.
func (c *Controller) PlayWelcome() {
	c.mu.Lock()
	if c.userHasSentLocked() || c.conversationID != "" {
		c.mu.Unlock()
		return
	}
	_, authed := c.tokens.Get()
	key := string(c.lang) + "|" + strconv.FormatBool(authed)
	if c.welcomePlayed[key] {
		c.mu.Unlock()
		return
	}
	c.welcomePlayed[key] = true

	t := table(c.lang)
	lines := t.WelcomeGuest
	if authed {
		lines = t.WelcomeUser
	}
	c.messages = append(c.messages, model.NewAssistantMessage(lines[0]))

	var delayed string
	if !authed && len(lines) > 1 {
		delayed = lines[1]
	}
	gen := c.generation
	c.mu.Unlock()
	c.notify()

	if delayed == "" {
		return
	}
	time.AfterFunc(c.opts.WelcomeDelay, func() {
		c.mu.Lock()
		// Reset bumps the generation, which also retires any pending
		// welcome line scheduled before it.
		if gen != c.generation || c.userHasSentLocked() {
			c.mu.Unlock()
			return
		}
		c.messages = append(c.messages, model.NewAssistantMessage(delayed))
		c.mu.Unlock()
		c.notify()
	})
}

// SetLanguage switches the user-facing string table at runtime (config hot
// reload). The welcome script replays for a not-yet-seen language while the
// conversation is still untouched.
func (c *Controller) SetLanguage(lang Lang) {
	c.mu.Lock()
	changed := c.lang != lang
	c.lang = lang
	c.mu.Unlock()
	if changed {
		c.PlayWelcome()
		c.notify()
	}
}

// =============================================================================
// CONVERSATION RESET
// =============================================================================

// Reset switches to a different conversation (or a fresh one when
// conversationID is empty): aborts any in-flight stream, clears the message
// list, and reloads history for a known conversation instead of playing the
// welcome script.
func (c *Controller) Reset(conversationID string) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.state = StateIdle
	c.activeLocalID = ""
	c.messages = nil
	c.conversationID = conversationID
	c.pendingText = ""
	c.historyLoading = false
	c.historyHasMore = false
	c.historyError = ""
	c.mu.Unlock()
	c.notify()

	if conversationID != "" {
		go c.LoadHistory(true)
	}
}

// ListConversations fetches one page of the caller's conversation list for
// the conversation switcher.
func (c *Controller) ListConversations(ctx context.Context, limit int, lastID string) (api.ConversationPage, error) {
	return c.backend.Conversations(ctx, limit, lastID)
}

// =============================================================================
// INTERNAL HELPERS (callers hold c.mu)
// =============================================================================

func (c *Controller) findLocalLocked(localID string) *model.Message {
	for _, m := range c.messages {
		if m.LocalID == localID {
			return m
		}
	}
	return nil
}

func (c *Controller) removeLocalLocked(localID string) {
	for i, m := range c.messages {
		if m.LocalID == localID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

func (c *Controller) userHasSentLocked() bool {
	for _, m := range c.messages {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}
