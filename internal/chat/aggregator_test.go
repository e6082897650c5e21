// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// flushRecorder collects sink calls.
type flushRecorder struct {
	mu     sync.Mutex
	ids    []string
	chunks []string
}

func (r *flushRecorder) sink(localID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, localID)
	r.chunks = append(r.chunks, text)
}

func (r *flushRecorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.chunks, "")
}

func (r *flushRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func TestAggregatorPreservesOrderAcrossFlushes(t *testing.T) {
	rec := &flushRecorder{}
	// Interval long enough that only manual flushes fire.
	agg := NewAggregator("local_1", time.Hour, rec.sink)

	agg.Append("Hel")
	agg.Flush()
	agg.Append("lo, ")
	agg.Append("world")
	agg.Close()

	if got := rec.joined(); got != "Hello, world" {
		t.Errorf("concatenated flushes = %q, want %q", got, "Hello, world")
	}
	if rec.calls() != 2 {
		t.Errorf("expected 2 sink calls, got %d", rec.calls())
	}
	for _, id := range rec.ids {
		if id != "local_1" {
			t.Errorf("sink called with id %q, want local_1", id)
		}
	}
}

func TestAggregatorFinalFlushOnClose(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator("local_1", time.Hour, rec.sink)

	agg.Append("tail")
	agg.Close()

	if got := rec.joined(); got != "tail" {
		t.Errorf("Close did not flush pending text, got %q", got)
	}
}

func TestAggregatorCloseIdempotentAndSealing(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator("local_1", time.Hour, rec.sink)

	agg.Append("a")
	agg.Close()
	agg.Close()
	agg.Append("dropped")
	agg.Flush()

	if got := rec.joined(); got != "a" {
		t.Errorf("text after Close leaked through: %q", got)
	}
}

func TestAggregatorEmptyFlushIsSilent(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator("local_1", time.Hour, rec.sink)

	agg.Flush()
	agg.Close()

	if rec.calls() != 0 {
		t.Errorf("expected no sink calls for empty buffer, got %d", rec.calls())
	}
}

func TestAggregatorPeriodicFlush(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewAggregator("local_1", 5*time.Millisecond, rec.sink)
	defer agg.Close()

	agg.Append("tick")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.joined() == "tick" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("periodic flush never delivered the buffered text")
}
