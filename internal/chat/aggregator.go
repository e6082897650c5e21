// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// STREAM AGGREGATOR
// =============================================================================

// Aggregator coalesces rapid delta fragments into periodic flushes so the
// message list is mutated at the flush cadence, not once per network packet.
//
// One Aggregator serves exactly one send. It is bound to the local id of the
// assistant placeholder for that send; the sink receives that id with every
// flush and is responsible for checking it is still the active message before
// applying the text. Close flushes whatever is pending, always - on end, on
// error, and on cancellation alike - so no buffered text is lost.
//
// Thread-safety: deltas arrive on the transport goroutine while the flush
// ticker runs on its own; all state is mutex-guarded.
type Aggregator struct {
	mu      sync.Mutex
	pending strings.Builder
	closed  bool

	activeID string
	interval time.Duration
	sink     func(localID, text string)
	stop     chan struct{}
}

// NewAggregator creates an aggregator bound to the assistant message with
// localID and starts its periodic flush. sink is called with coalesced text;
// it may be called from the ticker goroutine or, on Close, from the closing
// goroutine.
func NewAggregator(localID string, interval time.Duration, sink func(localID, text string)) *Aggregator {
	a := &Aggregator{
		activeID: localID,
		interval: interval,
		sink:     sink,
		stop:     make(chan struct{}),
	}
	go a.run()
	return a
}

// run drives the periodic flush until Close.
func (a *Aggregator) run() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.Flush()
		}
	}
}

// Append buffers delta text. No UI mutation happens here.
func (a *Aggregator) Append(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending.WriteString(text)
}

// Flush moves the pending buffer to the sink. No-op when nothing is pending.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if a.pending.Len() == 0 {
		a.mu.Unlock()
		return
	}
	text := a.pending.String()
	a.pending.Reset()
	id := a.activeID
	a.mu.Unlock()

	// Sink runs outside the lock: it takes the controller's lock and must
	// never nest inside ours.
	a.sink(id, text)
}

// Close stops the periodic flush and performs one final synchronous flush.
// Idempotent; safe to call on every exit path.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.stop)
	a.mu.Unlock()

	a.Flush()
}
