// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers for searchd: the
// streaming paper search, the quota endpoints, and the discrete pipeline
// endpoints.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/scholarstream/pkg/validation"
	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
	"github.com/AleutianAI/scholarstream/services/searchd/middleware"
	"github.com/AleutianAI/scholarstream/services/searchd/observability"
	"github.com/AleutianAI/scholarstream/services/searchd/quota"
	"github.com/AleutianAI/scholarstream/services/searchd/search"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultSearchTimeout bounds one pipeline run end to end.
	DefaultSearchTimeout = 5 * time.Minute

	// keepAliveInterval spaces SSE comment pings during long stages.
	keepAliveInterval = 15 * time.Second
)

const endpointPaperSearch = "paper_search"

// =============================================================================
// Handler
// =============================================================================

// SearchHandler serves the quota-gated streaming paper search.
//
// # Description
//
// One request flows: resolve subject (middleware) → validate body →
// admit through the quota guard → open the SSE stream → relay pipeline
// progress → write exactly one terminal frame → close. Quota denial
// happens strictly before any stream bytes: a denied request gets a
// plain 402 JSON body and never sees an SSE frame.
//
// # Thread Safety
//
// Safe for concurrent requests; per-request state lives on the stack.
type SearchHandler struct {
	guard        *quota.Guard
	orchestrator *search.Orchestrator
	metrics      *observability.SearchMetrics
	logger       *slog.Logger
	timeout      time.Duration
}

// NewSearchHandler wires the streaming handler. A zero timeout falls
// back to DefaultSearchTimeout; metrics may be nil in tests.
func NewSearchHandler(guard *quota.Guard, orchestrator *search.Orchestrator, metrics *observability.SearchMetrics, logger *slog.Logger, timeout time.Duration) *SearchHandler {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	return &SearchHandler{
		guard:        guard,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logger,
		timeout:      timeout,
	}
}

// HandleSearchStream handles POST /v1/paper_search.
//
// # Description
//
// The admission decision is made while the response is still plain
// HTTP. Only after admission do the SSE headers go out; from then on,
// all outcomes (including timeout) are SSE frames, and exactly one
// terminal frame (`result` or `error`) ends the stream.
//
// # Inputs
//
//   - c: Gin context carrying the resolved subject.
//
// # Outputs
//
// Writes either a JSON error (400/402/500) or an SSE stream.
func (h *SearchHandler) HandleSearchStream(c *gin.Context) {
	subject, ok := middleware.GetSubject(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subject not resolved"})
		return
	}

	var req datatypes.PaperSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateVenueCodes(req.Venues); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Admission strictly precedes streaming. A denial is a plain 402
	// body; no SSE frame is ever written for a denied request.
	admission, err := h.guard.Admit(c.Request.Context(), subject)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		h.metrics.RecordQuotaDecision(string(subject.Kind), "denied")
		c.JSON(http.StatusPaymentRequired, datatypes.QuotaExceededResponse{
			Code:      datatypes.ErrCodeQuotaExceeded,
			Message:   "search quota exhausted",
			Remaining: 0,
		})
		return
	}
	if err != nil {
		h.logger.Error("quota admission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
		return
	}
	h.metrics.RecordQuotaDecision(string(subject.Kind), "admitted")

	SetSSEHeaders(c.Writer)
	writer, err := NewProgressWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	h.metrics.StreamStarted()
	defer h.metrics.StreamEnded()
	start := time.Now()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// Keepalive pings until the pipeline settles.
	pipelineDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			case <-pipelineDone:
				return
			}
		}
	}()

	// The first progress frame carries the post-admission remaining so
	// clients can update their quota display immediately.
	firstFrame := true
	stageStarts := make(map[datatypes.SearchStage]time.Time)
	result, runErr := h.orchestrator.Run(ctx, req, func(event datatypes.StageEvent) {
		if firstFrame {
			event.QuotaRemaining = admission.Remaining
			firstFrame = false
		}
		switch event.Status {
		case datatypes.StageRunning:
			if _, seen := stageStarts[event.Stage]; !seen {
				stageStarts[event.Stage] = time.Now()
			}
		case datatypes.StageCompleted, datatypes.StageErrored:
			if began, seen := stageStarts[event.Stage]; seen {
				h.metrics.RecordStageDuration(string(event.Stage), time.Since(began).Seconds())
			}
		}
		if err := writer.WriteStage(event); err != nil {
			h.logger.Debug("progress write failed", "error", err)
		}
	})
	close(pipelineDone)

	if runErr != nil {
		h.finishWithError(c, writer, subject, runErr, start)
		return
	}

	if err := writer.WriteResult(datatypes.ResultEvent{
		OriginalQuery:           result.OriginalQuery,
		Keywords:                result.Keywords,
		PapersFoundBeforeFilter: result.PapersBeforeFilter,
		Papers:                  result.Papers,
		QuotaRemaining:          admission.Remaining,
		Message:                 "search completed",
	}); err != nil {
		h.logger.Debug("result write failed", "error", err)
	}
	h.metrics.RecordRequest(endpointPaperSearch, "success")
	h.metrics.RecordStreamDuration("success", time.Since(start).Seconds())
}

// finishWithError writes the terminal error frame, unless the client
// already went away, in which case the stream ends silently.
func (h *SearchHandler) finishWithError(c *gin.Context, writer ProgressWriter, subject quota.Subject, runErr error, start time.Time) {
	h.metrics.RecordRequest(endpointPaperSearch, "error")
	h.metrics.RecordStreamDuration("error", time.Since(start).Seconds())

	if errors.Is(runErr, context.Canceled) && c.Request.Context().Err() != nil {
		// No terminal frame: there is nobody left to read it.
		h.metrics.RecordClientDisconnect()
		h.logger.Info("client disconnected mid-search", "subject", subject.String())
		return
	}

	code := datatypes.ErrCodeUpstreamFailure
	message := "search failed"
	var stageErr *search.StageError
	if errors.As(runErr, &stageErr) {
		code = stageErr.Code
		if code == datatypes.ErrCodeTimeout {
			message = "search timed out"
		}
	}

	h.logger.Error("search pipeline failed",
		"subject", subject.String(), "code", code, "error", runErr)
	h.metrics.RecordError(code)
	if err := writer.WriteError(code, message); err != nil {
		h.logger.Debug("error frame write failed", "error", err)
	}
}
