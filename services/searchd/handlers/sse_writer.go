// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ProgressWriter defines the contract for writing search progress frames
// to an SSE response.
//
// # Description
//
// ProgressWriter abstracts SSE frame serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: name\ndata: json\n\n) internally.
//
// Each frame is automatically assigned:
//   - ID: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the streaming handler
// emits progress frames from the pipeline goroutine and keepalives from a
// ticker goroutine.
//
// # Limitations
//
//   - Must be used with http.Flusher-compatible ResponseWriter
//   - Response headers must be set before first write
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type ProgressWriter interface {
	// WriteStage writes one `progress` frame.
	WriteStage(event datatypes.StageEvent) error

	// WriteResult writes the terminal `result` frame.
	//
	// # Assumptions
	//
	//   - No frames follow; the caller closes the stream
	WriteResult(event datatypes.ResultEvent) error

	// WriteError writes the terminal `error` frame.
	//
	// # Limitations
	//
	//   - Message must be sanitized (no internal details)
	WriteError(code, message string) error

	// WriteKeepAlive sends a comment line to prevent connection timeouts.
	//
	// # Description
	//
	// Sends an SSE comment (": ping\n\n") during long stages. Comments are
	// ignored by clients but reset load balancer timeout counters (AWS
	// ALB, Nginx default 60s).
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// progressWriter implements ProgressWriter for HTTP SSE responses.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher interface for immediate send
//   - mu: Mutex for thread-safe writes
//
// # Limitations
//
//   - Cannot be reused across requests
type progressWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewProgressWriter creates a ProgressWriter for the given ResponseWriter.
//
// # Outputs
//
//   - ProgressWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
func NewProgressWriter(w http.ResponseWriter) (ProgressWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &progressWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

// writeFrame serializes the payload and writes one SSE frame, flushing
// immediately.
func (w *progressWriter) writeFrame(name string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", name, err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write %s frame: %w", name, err)
	}
	w.flusher.Flush()
	return nil
}

func (w *progressWriter) WriteStage(event datatypes.StageEvent) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	return w.writeFrame(datatypes.FrameProgress, event)
}

func (w *progressWriter) WriteResult(event datatypes.ResultEvent) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	if event.Papers == nil {
		// The wire contract promises an array, never null.
		event.Papers = []datatypes.Paper{}
	}
	return w.writeFrame(datatypes.FrameResult, event)
}

func (w *progressWriter) WriteError(code, message string) error {
	return w.writeFrame(datatypes.FrameError, datatypes.ErrorEvent{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Code:      code,
		Message:   message,
	})
}

func (w *progressWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ ProgressWriter = (*progressWriter)(nil)
