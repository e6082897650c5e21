// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AsePal/sinosea-chat/internal/model"
)

func openTestCache(t *testing.T) *TranscriptCache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func turn(userText, assistantText string, at time.Time) (*model.Message, *model.Message) {
	u := model.NewUserMessage(userText)
	u.Timestamp = at
	a := model.NewAssistantMessage(assistantText)
	a.Timestamp = at.Add(time.Second)
	return u, a
}

func TestAppendAndReadBack(t *testing.T) {
	c := openTestCache(t)

	base := time.Now()
	u1, a1 := turn("hello", "hi there", base)
	u2, a2 := turn("visa question", "here is the answer", base.Add(time.Minute))

	require.NoError(t, c.AppendTurn("c1", u1, a1))
	require.NoError(t, c.AppendTurn("c1", u2, a2))

	msgs, err := c.Transcript("c1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	// Oldest-first order
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, "hi there", msgs[1].Content)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.Equal(t, "here is the answer", msgs[3].Content)
}

func TestTranscriptLimitKeepsNewest(t *testing.T) {
	c := openTestCache(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		u, a := turn("q", "a", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, c.AppendTurn("c1", u, a))
	}

	msgs, err := c.Transcript("c1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// The two newest rows, still oldest-first among themselves
	require.True(t, msgs[0].Timestamp.Before(msgs[1].Timestamp))
}

func TestReplaceConversation(t *testing.T) {
	c := openTestCache(t)

	u, a := turn("old", "old reply", time.Now())
	require.NoError(t, c.AppendTurn("c1", u, a))

	fresh := []*model.Message{
		model.NewUserMessage("new"),
		model.NewAssistantMessage("new reply"),
	}
	require.NoError(t, c.ReplaceConversation("c1", fresh))

	msgs, err := c.Transcript("c1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "new", msgs[0].Content)
}

func TestConversationsOrderedByRecency(t *testing.T) {
	c := openTestCache(t)

	base := time.Now()
	u1, a1 := turn("q", "a", base)
	u2, a2 := turn("q", "a", base.Add(time.Hour))
	require.NoError(t, c.AppendTurn("older", u1, a1))
	require.NoError(t, c.AppendTurn("newer", u2, a2))

	ids, err := c.Conversations()
	require.NoError(t, err)
	require.Equal(t, []string{"newer", "older"}, ids)
}

func TestAppendTurnIdempotentByLocalID(t *testing.T) {
	c := openTestCache(t)

	u, a := turn("q", "a", time.Now())
	require.NoError(t, c.AppendTurn("c1", u, a))
	require.NoError(t, c.AppendTurn("c1", u, a))

	msgs, err := c.Transcript("c1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "re-inserting the same turn must not duplicate")
}

func TestEmptyTranscript(t *testing.T) {
	c := openTestCache(t)
	msgs, err := c.Transcript("missing", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
