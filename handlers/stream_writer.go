// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Stream Writer
// =============================================================================

// streamWriter forwards generation chunks to the client as a plain-text
// chunked body while accumulating the full response for persistence.
//
// # Invariant
//
// Forward and accumulate happen under one mutex, so the persisted text is
// exactly what the client received. A chunk that fails to write is not
// accumulated.
//
// # Thread Safety
//
// Safe for concurrent use. The generation callback and any keep-alive
// goroutine may write from different goroutines.
type streamWriter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher

	acc      strings.Builder
	wroteAny bool
}

// newStreamWriter wraps the response writer. Fails if the underlying
// writer cannot flush, since buffered streaming defeats the point.
func newStreamWriter(w gin.ResponseWriter) (*streamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &streamWriter{w: w, flusher: flusher}, nil
}

// WriteChunk forwards one chunk and appends it to the accumulator. Empty
// chunks are dropped.
func (s *streamWriter) WriteChunk(chunk string) error {
	if chunk == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.WriteString(chunk); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	s.flusher.Flush()

	s.acc.WriteString(chunk)
	s.wroteAny = true
	return nil
}

// Accumulated returns everything forwarded so far.
func (s *streamWriter) Accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.String()
}

// WroteAny reports whether at least one chunk reached the client. Decides
// whether an error can still be a structured JSON response or must
// terminate the chunked body.
func (s *streamWriter) WroteAny() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wroteAny
}

// setStreamHeaders prepares the response for plain-text chunked streaming.
// Must run before the first write.
func setStreamHeaders(c *gin.Context, conversationID string) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Conversation-Id", conversationID)
	c.Status(http.StatusOK)
}
