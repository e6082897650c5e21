// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP/SSE client for the SinoSEA chat backend.
//
// Two surfaces: SendStream (stream.go) performs the single-shot streaming
// chat POST, and the REST helpers here fetch paginated history and the
// conversation list. All requests attach the bearer token from the injected
// auth store; a 401 clears the token and raises the process-wide expired
// notification.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/AsePal/sinosea-chat/internal/auth"
)

// Configuration constants for the chat API.
const (
	// DefaultRequestTimeout bounds non-streaming REST calls.
	DefaultRequestTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed REST response body size.
	// Response size limit prevents memory exhaustion from a broken proxy.
	MaxResponseSize = 4 * 1024 * 1024 // 4MB
)

var (
	// Shared HTTP client with connection pooling for REST requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultRequestTimeout,
	}

	// sharedStreamingClient is used for streaming requests. No client
	// timeout: the stream watchdogs cancel via context instead.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client is the chat backend client.
type Client struct {
	baseURL    string
	tokens     *auth.TokenStore
	httpClient *http.Client
	streaming  *http.Client

	// limiter bounds REST request rate so rapid "load more" scrolling
	// cannot hammer the backend.
	limiter *rate.Limiter
}

// NewClient creates a client for the backend at baseURL. tokens supplies the
// bearer token and receives the expired notification on 401.
func NewClient(baseURL string, tokens *auth.TokenStore) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: sharedHTTPClient,
		streaming:  sharedStreamingClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

// WithHTTPClient overrides the REST http client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// =============================================================================
// DTO TYPES
// =============================================================================

// HistoryMessage is one persisted message from the history endpoint.
type HistoryMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagePage is one page of conversation history, oldest-first.
type MessagePage struct {
	Items   []HistoryMessage `json:"items"`
	HasMore bool             `json:"hasMore"`
}

// ConversationSummary is one entry from the conversation list endpoint.
type ConversationSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Items   []ConversationSummary `json:"items"`
	HasMore bool                  `json:"hasMore"`
}

// =============================================================================
// REST ENDPOINTS
// =============================================================================

// Messages fetches one history page for conversationID. firstID, when
// non-empty, is the pagination cursor: the page returned precedes that
// message. limit caps the page size.
func (c *Client) Messages(ctx context.Context, conversationID, firstID string, limit int) (MessagePage, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	if firstID != "" {
		q.Set("first_id", firstID)
	}
	q.Set("limit", strconv.Itoa(limit))

	// The history endpoint wraps the page in a data envelope.
	var envelope struct {
		Data MessagePage `json:"data"`
	}
	if err := c.getJSON(ctx, "/chat/messages", q, &envelope); err != nil {
		return MessagePage{}, err
	}
	return envelope.Data, nil
}

// Conversations fetches one page of the caller's conversation list.
func (c *Client) Conversations(ctx context.Context, limit int, lastID string) (ConversationPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if lastID != "" {
		q.Set("last_id", lastID)
	}

	var page ConversationPage
	if err := c.getJSON(ctx, "/chat/conversations", q, &page); err != nil {
		return ConversationPage{}, err
	}
	return page, nil
}

// =============================================================================
// AUTHENTICATED JSON HELPER
// =============================================================================

// getJSON performs an authenticated GET and decodes the JSON response into
// out. On 401 it clears the stored token and publishes the expired
// notification before returning the error.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token is dead: forget it and tell the rest of the process.
		c.tokens.Clear()
		c.tokens.NotifyExpired()
		return &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// setHeaders attaches the standard headers, including the bearer token when
// one is stored.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if token, ok := c.tokens.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// errorMessage extracts a server-provided error message from a JSON error
// body, or returns empty.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
