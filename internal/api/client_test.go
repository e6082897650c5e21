// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/AsePal/sinosea-chat/internal/auth"
)

func TestMessagesDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("conversation_id") != "c1" || q.Get("first_id") != "m5" || q.Get("limit") != "20" {
			t.Errorf("unexpected query %v", q)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"items":[
			{"id":"m3","role":"user","content":"hello"},
			{"id":"m4","role":"assistant","content":"hi"}
		],"hasMore":true}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	page, err := client.Messages(context.Background(), "c1", "m5", 20)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}

	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.Items[0].ID != "m3" || page.Items[0].Role != "user" || page.Items[0].Content != "hello" {
		t.Errorf("bad first item: %+v", page.Items[0])
	}
	if !page.HasMore {
		t.Error("hasMore not decoded")
	}
}

func TestMessagesOmitsEmptyCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.URL.Query()["first_id"]; present {
			t.Error("first_id must be omitted when empty")
		}
		w.Write([]byte(`{"data":{"items":[],"hasMore":false}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if _, err := client.Messages(context.Background(), "c1", "", 20); err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
}

func TestConversationsDecodesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/conversations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"items":[{"id":"c1","name":"Visa questions"}],"hasMore":false}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	page, err := client.Conversations(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "Visa questions" {
		t.Errorf("bad page: %+v", page)
	}
}

func TestUnauthorizedClearsTokenAndNotifies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer server.Close()

	tokens := auth.NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	if err := tokens.Set("stale"); err != nil {
		t.Fatal(err)
	}
	expired := 0
	tokens.OnExpired(func() { expired++ })

	client := NewClient(server.URL, tokens)
	_, err := client.Messages(context.Background(), "c1", "", 20)

	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if apiErr.Message != "token expired" {
		t.Errorf("server message not surfaced: %q", apiErr.Message)
	}
	if _, ok := tokens.Get(); ok {
		t.Error("token not cleared on 401")
	}
	if expired != 1 {
		t.Errorf("expected 1 expired notification, got %d", expired)
	}
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Conversations(context.Background(), 10, "")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 502 || apiErr.Message != "upstream down" {
		t.Errorf("bad APIError: %+v", apiErr)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("non-401 must not match ErrUnauthorized")
	}
}
