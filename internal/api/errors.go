// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
)

// =============================================================================
// STREAM ERROR KINDS
// =============================================================================

// StreamErrorKind classifies how a streaming send failed. Kinds are mutually
// exclusive: every failed SendStream call reports exactly one.
type StreamErrorKind string

const (
	// KindFirstByteTimeout: aborted before any response byte arrived.
	KindFirstByteTimeout StreamErrorKind = "FIRST_BYTE_TIMEOUT"

	// KindIdleTimeout: aborted after the stream stalled mid-reply.
	KindIdleTimeout StreamErrorKind = "IDLE_TIMEOUT"

	// KindAborted: any other abort - external cancellation or the total
	// watchdog. The trigger is recorded in StreamError.Cause.
	KindAborted StreamErrorKind = "ABORTED"

	// KindHTTPError: non-2xx response status.
	KindHTTPError StreamErrorKind = "HTTP_ERROR"

	// KindNoBody: the response carried no readable stream.
	KindNoBody StreamErrorKind = "NO_BODY"

	// KindParseError: a data block failed to parse as a known event.
	// Fatal for the turn, never retried.
	KindParseError StreamErrorKind = "PARSE_ERROR"

	// KindNetworkError: the stream ended without an end event, or any
	// other transport-level failure.
	KindNetworkError StreamErrorKind = "NETWORK_ERROR"
)

// =============================================================================
// ABORT CAUSE
// =============================================================================

// AbortCause records which path triggered an abort. The source protocol
// cannot distinguish external cancel from the total watchdog after the fact;
// we track the trigger explicitly instead of reconstructing it from timing.
type AbortCause int

const (
	CauseNone AbortCause = iota
	CauseExternal
	CauseFirstByteTimeout
	CauseIdleTimeout
	CauseTotalTimeout
)

// String returns a short name for the cause.
func (c AbortCause) String() string {
	switch c {
	case CauseExternal:
		return "external"
	case CauseFirstByteTimeout:
		return "first-byte-timeout"
	case CauseIdleTimeout:
		return "idle-timeout"
	case CauseTotalTimeout:
		return "total-timeout"
	default:
		return "none"
	}
}

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError is the single failure type returned by SendStream. Partial
// holds any delta text already delivered before the failure, so callers can
// keep a truncated real answer instead of discarding it.
type StreamError struct {
	Kind    StreamErrorKind
	Cause   AbortCause // set for abort kinds, CauseNone otherwise
	Status  int        // HTTP status for KindHTTPError
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	switch {
	case e.Kind == KindHTTPError:
		return fmt.Sprintf("stream failed: %s (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("stream failed: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("stream failed: %s", e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// AsStreamError extracts a *StreamError from err, or nil.
func AsStreamError(err error) *StreamError {
	var se *StreamError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// =============================================================================
// API ERROR
// =============================================================================

// ErrUnauthorized is the sentinel for 401 responses from REST endpoints.
var ErrUnauthorized = errors.New("unauthorized")

// APIError represents a non-2xx response from a REST endpoint.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// Is lets 401 APIErrors match ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == 401
}
