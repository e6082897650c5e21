// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AsePal/sinosea-chat/internal/api"
	"github.com/AsePal/sinosea-chat/internal/model"
)

// pageOf builds one oldest-first history page.
func pageOf(hasMore bool, items ...api.HistoryMessage) api.MessagePage {
	return api.MessagePage{Items: items, HasMore: hasMore}
}

func hm(id, role, content string) api.HistoryMessage {
	return api.HistoryMessage{ID: id, Role: role, Content: content}
}

func TestLoadHistoryResetReplacesList(t *testing.T) {
	backend := &fakeBackend{
		messages: func(conversationID, firstID string, limit int) (api.MessagePage, error) {
			if conversationID != "c1" || firstID != "" {
				t.Errorf("unexpected fetch: conv=%q first=%q", conversationID, firstID)
			}
			return pageOf(true,
				hm("m1", "user", "How do I register for courses?"),
				hm("m2", "assistant", "Through the student portal."),
			), nil
		},
	}
	c := newTestController(backend, authedTokens(t))

	c.Reset("c1")
	waitFor(t, "history load", func() bool { return len(c.Snapshot()) == 2 })

	msgs := c.Snapshot()
	if msgs[0].MessageID != "m1" || msgs[0].Role != model.RoleUser {
		t.Errorf("bad first message: %+v", msgs[0])
	}
	if msgs[1].MessageID != "m2" || msgs[1].Role != model.RoleAssistant {
		t.Errorf("bad second message: %+v", msgs[1])
	}
	if !c.HistoryHasMore() {
		t.Error("hasMore not recorded")
	}
}

func TestLoadHistoryResetIsIdempotent(t *testing.T) {
	backend := &fakeBackend{
		messages: func(conversationID, firstID string, limit int) (api.MessagePage, error) {
			return pageOf(false, hm("m1", "user", "hi"), hm("m2", "assistant", "hello")), nil
		},
	}
	c := newTestController(backend, authedTokens(t))

	c.Reset("c1")
	waitFor(t, "first load", func() bool { return len(c.Snapshot()) == 2 })

	c.LoadHistory(true)
	waitFor(t, "second load", func() bool { return !c.HistoryLoading() })

	msgs := c.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("repeated reset load duplicated messages: %d", len(msgs))
	}
	if msgs[0].MessageID != "m1" || msgs[1].MessageID != "m2" {
		t.Errorf("repeated reset load changed content: %+v", msgs)
	}
}

func TestLoadHistoryPrependsOlderPage(t *testing.T) {
	backend := &fakeBackend{
		messages: func(conversationID, firstID string, limit int) (api.MessagePage, error) {
			switch firstID {
			case "":
				return pageOf(true, hm("m3", "user", "recent question"), hm("m4", "assistant", "recent answer")), nil
			case "m3":
				return pageOf(false, hm("m1", "user", "old question"), hm("m2", "assistant", "old answer")), nil
			default:
				return api.MessagePage{}, errors.New("unexpected cursor " + firstID)
			}
		},
	}
	c := newTestController(backend, authedTokens(t))

	c.Reset("c1")
	waitFor(t, "initial page", func() bool { return len(c.Snapshot()) == 2 })

	c.LoadHistory(false)

	msgs := c.Snapshot()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	want := []string{"m1", "m2", "m3", "m4"}
	for i := range want {
		if i >= len(ids) || ids[i] != want[i] {
			t.Fatalf("merged order = %v, want %v", ids, want)
		}
	}
	if c.HistoryHasMore() {
		t.Error("hasMore should be false after the last page")
	}
}

func TestLoadHistoryPrependDuringStreamingLeavesTailAlone(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		stream: func(ctx context.Context, payload api.StreamPayload, onEvent func(api.StreamEvent)) (*api.StreamStats, error) {
			onEvent(api.StreamEvent{Type: api.EventStart, ConversationID: "c1", MessageID: "m5"})
			close(entered)
			<-release
			onEvent(api.StreamEvent{Type: api.EventDelta, Text: "Late answer."})
			onEvent(api.StreamEvent{Type: api.EventEnd, ConversationID: "c1", MessageID: "m5"})
			return &api.StreamStats{DeltaCount: 1}, nil
		},
		messages: func(conversationID, firstID string, limit int) (api.MessagePage, error) {
			switch firstID {
			case "":
				return pageOf(true, hm("m3", "user", "earlier q"), hm("m4", "assistant", "earlier a")), nil
			case "m3":
				return pageOf(false, hm("m1", "user", "oldest q"), hm("m2", "assistant", "oldest a")), nil
			default:
				return api.MessagePage{}, errors.New("unexpected cursor " + firstID)
			}
		},
	}
	c := newTestController(backend, authedTokens(t))

	c.Reset("c1")
	waitFor(t, "initial page", func() bool { return len(c.Snapshot()) == 2 })

	c.Send("new question")
	<-entered

	// Pagination during an in-flight stream: prepend at the head, stream
	// appends at the tail.
	c.LoadHistory(false)
	if got := len(c.Snapshot()); got != 6 {
		t.Fatalf("expected 6 messages after prepend, got %d", got)
	}

	close(release)
	waitFor(t, "send to settle", c.settled)

	msgs := c.Snapshot()
	last := msgs[len(msgs)-1]
	if last.Content != "Late answer." || last.IsStreaming {
		t.Errorf("streamed tail corrupted by prepend: %+v", last)
	}
	if msgs[0].MessageID != "m1" {
		t.Errorf("prepend lost: head is %+v", msgs[0])
	}
}

func TestLoadHistorySingleFlight(t *testing.T) {
	block := make(chan struct{})
	backend := &fakeBackend{
		messages: func(conversationID, firstID string, limit int) (api.MessagePage, error) {
			<-block
			return pageOf(false, hm("m1", "user", "hi")), nil
		},
	}
	c := newTestController(backend, authedTokens(t))

	c.Reset("c1") // kicks off the first load
	waitFor(t, "load in flight", c.HistoryLoading)

	c.LoadHistory(true) // busy: must not reach the backend
	if got := backend.messageFetches(); got != 1 {
		t.Errorf("expected 1 fetch while busy, got %d", got)
	}

	close(block)
	waitFor(t, "load to finish", func() bool { return !c.HistoryLoading() })
}

func TestLoadHistoryFailureKeepsMessages(t *testing.T) {
	fail := false
	backend := &fakeBackend{
		messages: func(conversationID, firstID string, limit int) (api.MessagePage, error) {
			if fail {
				return api.MessagePage{}, errors.New("backend down")
			}
			return pageOf(true, hm("m3", "user", "q"), hm("m4", "assistant", "a")), nil
		},
	}
	c := newTestController(backend, authedTokens(t))

	c.Reset("c1")
	waitFor(t, "initial page", func() bool { return len(c.Snapshot()) == 2 })

	fail = true
	c.LoadHistory(false)

	if got := len(c.Snapshot()); got != 2 {
		t.Errorf("failed fetch mutated messages: %d", got)
	}
	if c.HistoryError() != table(LangEnglish).ErrHistory {
		t.Errorf("history error = %q", c.HistoryError())
	}
	if c.HistoryLoading() {
		t.Error("loading flag stuck after failure")
	}

	// The next successful fetch clears the error surface.
	fail = false
	c.LoadHistory(false)
	if c.HistoryError() != "" {
		t.Errorf("history error not cleared: %q", c.HistoryError())
	}
}

func TestLoadHistoryNoopWithoutConversation(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestController(backend, authedTokens(t))

	c.LoadHistory(true)
	c.LoadHistory(false)

	if got := backend.messageFetches(); got != 0 {
		t.Errorf("history fetched without a conversation: %d calls", got)
	}
}

func TestLoadHistoryNoopWithoutServerCursor(t *testing.T) {
	backend := &fakeBackend{stream: scriptedReply("", "", "local only")}
	c := newTestController(backend, authedTokens(t))

	// A turn whose events carry no server ids leaves nothing to page before.
	c.Send("hello")
	waitFor(t, "send to settle", c.settled)

	c.mu.Lock()
	c.conversationID = "c1"
	c.mu.Unlock()

	c.LoadHistory(false)
	time.Sleep(10 * time.Millisecond)
	if got := backend.messageFetches(); got != 0 {
		t.Errorf("paged with no server cursor: %d calls", got)
	}
}
