// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// STREAMING: single-shot SSE send with watchdog timeouts and strict
// failure classification.

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// DefaultFirstByteTimeout aborts if no response byte arrives in time.
	DefaultFirstByteTimeout = 15 * time.Second

	// DefaultIdleTimeout aborts when the stream stalls mid-reply.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultTotalTimeout is the unconditional upper bound on one send.
	DefaultTotalTimeout = 120 * time.Second

	// defaultIdlePollInterval is how often the idle watchdog checks
	// time-since-last-byte.
	defaultIdlePollInterval = 2 * time.Second

	// MaxEventSize is the maximum allowed size of a single event block.
	MaxEventSize = 256 * 1024
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamPayload is the body of the streaming chat POST.
type StreamPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// EventType discriminates the server event union.
type EventType string

const (
	EventStart EventType = "start"
	EventDelta EventType = "delta"
	EventEnd   EventType = "end"
)

// StreamEvent is one decoded server event.
//
// A well-formed turn arrives as start, zero or more deltas, then end.
// ConversationID and MessageID are set on start and end; Text on delta.
type StreamEvent struct {
	Type           EventType
	ConversationID string
	MessageID      string
	Text           string
}

// wireEvent is the raw JSON shape of an event data block.
type wireEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
}

// StreamOptions configures the watchdogs for one SendStream call.
// Zero fields take the package defaults.
type StreamOptions struct {
	FirstByteTimeout time.Duration
	IdleTimeout      time.Duration
	TotalTimeout     time.Duration

	// pollInterval overrides the idle watchdog cadence (tests only).
	pollInterval time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.FirstByteTimeout <= 0 {
		o.FirstByteTimeout = DefaultFirstByteTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.TotalTimeout <= 0 {
		o.TotalTimeout = DefaultTotalTimeout
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultIdlePollInterval
	}
	return o
}

// StreamStats holds timing collected during one streamed turn.
type StreamStats struct {
	FirstByte  time.Duration
	Total      time.Duration
	DeltaCount int
}

// =============================================================================
// SEND STREAM
// =============================================================================

// SendStream performs the streaming chat POST and delivers decoded events to
// onEvent in arrival order. It returns as soon as an end event has been
// parsed, without waiting for the connection to close.
//
// Exactly one terminal outcome per call: nil on end, or a *StreamError whose
// Kind classifies the failure. Cancellation of ctx aborts the request;
// already-delivered events are not rolled back. Timers and the response body
// are always released on exit, whichever path is taken.
func (c *Client) SendStream(ctx context.Context, payload StreamPayload, opts StreamOptions, onEvent func(StreamEvent)) (*StreamStats, error) {
	opts = opts.withDefaults()

	call := &streamCall{start: time.Now()}
	call.lastActivity.Store(call.start.UnixNano())
	stats := &StreamStats{}
	defer func() {
		stats.Total = time.Since(call.start)
	}()

	// Internal cancellation controller, linked to the external ctx.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First-byte watchdog.
	firstByteTimer := time.AfterFunc(opts.FirstByteTimeout, func() {
		if !call.firstByte.Load() {
			call.abort(CauseFirstByteTimeout, cancel)
		}
	})
	defer firstByteTimer.Stop()

	// Total watchdog: unconditional.
	totalTimer := time.AfterFunc(opts.TotalTimeout, func() {
		call.abort(CauseTotalTimeout, cancel)
	})
	defer totalTimer.Stop()

	// Idle watchdog: polled, not event-driven, so one timer survives the
	// whole stream regardless of chunk count.
	idleDone := make(chan struct{})
	defer close(idleDone)
	go func() {
		ticker := time.NewTicker(opts.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-idleDone:
				return
			case <-sctx.Done():
				return
			case <-ticker.C:
				if !call.firstByte.Load() {
					continue // first-byte watchdog owns this window
				}
				idle := time.Since(time.Unix(0, call.lastActivity.Load()))
				if idle > opts.IdleTimeout {
					call.abort(CauseIdleTimeout, cancel)
					return
				}
			}
		}
	}()

	resp, err := c.openStream(sctx, payload)
	if err != nil {
		return stats, call.classify(ctx, err)
	}
	// The transport substitutes http.NoBody for a nil body, so check both.
	if resp.Body == nil || resp.Body == http.NoBody {
		return stats, &StreamError{Kind: KindNoBody}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return stats, &StreamError{Kind: KindHTTPError, Status: resp.StatusCode}
	}

	err = call.readEvents(resp.Body, stats, onEvent)
	if err != nil {
		return stats, call.classify(ctx, err)
	}
	return stats, nil
}

// openStream issues the POST request on the timeout-less streaming client.
func (c *Client) openStream(ctx context.Context, payload StreamPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	return c.streaming.Do(req)
}

// =============================================================================
// STREAM CALL STATE
// =============================================================================

// streamCall tracks per-call watchdog state shared between the read loop and
// the timer callbacks.
type streamCall struct {
	start        time.Time
	firstByte    atomic.Bool
	lastActivity atomic.Int64 // unix nanos of last received byte
	cause        atomic.Int32 // AbortCause, set once by whichever abort wins
	partial      strings.Builder
	sawEnd       bool
}

// abort records the cause (first writer wins) and cancels the request.
func (s *streamCall) abort(cause AbortCause, cancel context.CancelFunc) {
	s.cause.CompareAndSwap(int32(CauseNone), int32(cause))
	cancel()
}

// markActivity notes received bytes for the watchdogs.
func (s *streamCall) markActivity() {
	s.firstByte.Store(true)
	s.lastActivity.Store(time.Now().UnixNano())
}

// readEvents consumes the response body, decoding event blocks and
// dispatching them. Returns nil once an end event is parsed.
func (s *streamCall) readEvents(body io.Reader, stats *StreamStats, onEvent func(StreamEvent)) error {
	var pending []byte
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if !s.firstByte.Load() {
				stats.FirstByte = time.Since(s.start)
			}
			s.markActivity()
			pending = append(pending, buf[:n]...)

			done, perr := s.drainBlocks(&pending, stats, onEvent)
			if perr != nil {
				return perr
			}
			if done {
				return nil
			}
			if len(pending) > MaxEventSize {
				return &StreamError{Kind: KindParseError, Partial: s.partial.String(),
					Err: fmt.Errorf("event block exceeds %d bytes", MaxEventSize)}
			}
		}
		if err != nil {
			if err == io.EOF {
				// Natural close without an end event is a protocol
				// violation, not a completion.
				return &StreamError{Kind: KindNetworkError, Partial: s.partial.String(),
					Err: fmt.Errorf("stream closed before end event")}
			}
			return err
		}
	}
}

// drainBlocks extracts and dispatches every complete event block currently
// buffered, keeping the trailing incomplete fragment for the next chunk.
// Returns done=true once an end event has been dispatched.
func (s *streamCall) drainBlocks(pending *[]byte, stats *StreamStats, onEvent func(StreamEvent)) (bool, error) {
	for {
		block, rest, ok := nextBlock(*pending)
		if !ok {
			return false, nil
		}
		*pending = rest

		ev, ok, err := parseBlock(block)
		if err != nil {
			return false, &StreamError{Kind: KindParseError, Partial: s.partial.String(), Err: err}
		}
		if !ok {
			continue // comment-only or empty block
		}

		if ev.Type == EventDelta {
			stats.DeltaCount++
			s.partial.WriteString(ev.Text)
		}
		onEvent(ev)
		if ev.Type == EventEnd {
			s.sawEnd = true
			return true, nil
		}
	}
}

// classify maps a raw transport failure to its StreamError kind. Aborts (by
// recorded cause) take priority over everything else.
func (s *streamCall) classify(ctx context.Context, err error) error {
	// A StreamError produced inside the read loop is already classified.
	if se := AsStreamError(err); se != nil {
		return se
	}

	partial := s.partial.String()

	cause := AbortCause(s.cause.Load())
	if cause == CauseNone && ctx.Err() != nil {
		// The external signal fired before any watchdog.
		cause = CauseExternal
	}

	switch cause {
	case CauseFirstByteTimeout:
		return &StreamError{Kind: KindFirstByteTimeout, Cause: cause, Err: err}
	case CauseIdleTimeout:
		return &StreamError{Kind: KindIdleTimeout, Cause: cause, Partial: partial, Err: err}
	case CauseExternal, CauseTotalTimeout:
		return &StreamError{Kind: KindAborted, Cause: cause, Partial: partial, Err: err}
	}

	return &StreamError{Kind: KindNetworkError, Partial: partial, Err: err}
}

// =============================================================================
// EVENT DECODING
// =============================================================================

// nextBlock splits off the first complete event block from buf. Blocks are
// delimited by a blank line; both \n\n and \r\n\r\n are tolerated.
func nextBlock(buf []byte) (block, rest []byte, ok bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case lf == -1 && crlf == -1:
		return nil, buf, false
	case crlf != -1 && (lf == -1 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	default:
		return buf[:lf], buf[lf+2:], true
	}
}

// parseBlock decodes one event block. Comment lines (leading ':') are
// heartbeats and dropped; data lines may span multiple lines and are joined
// with newlines before JSON decoding. ok=false means the block carried no
// data at all.
func parseBlock(block []byte) (StreamEvent, bool, error) {
	var dataLines [][]byte

	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			data := line[5:]
			data = bytes.TrimPrefix(data, []byte(" "))
			dataLines = append(dataLines, data)
		}
		// Other SSE fields (event:, id:, retry:) are not part of this
		// backend's contract and are ignored.
	}

	if len(dataLines) == 0 {
		return StreamEvent{}, false, nil
	}

	joined := bytes.Join(dataLines, []byte("\n"))
	var raw wireEvent
	if err := json.Unmarshal(joined, &raw); err != nil {
		return StreamEvent{}, false, fmt.Errorf("bad event json: %w", err)
	}

	// The wire payload is untrusted: reject shapes outside the contract
	// instead of guessing.
	switch EventType(raw.Type) {
	case EventStart, EventDelta, EventEnd:
	default:
		return StreamEvent{}, false, fmt.Errorf("unknown event type %q", raw.Type)
	}

	return StreamEvent{
		Type:           EventType(raw.Type),
		ConversationID: raw.ConversationID,
		MessageID:      raw.MessageID,
		Text:           raw.Text,
	}, true, nil
}
