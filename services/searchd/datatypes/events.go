// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the event types carried on the search progress stream.
//
// A search request produces one ordered frame sequence:
//
//	progress(rewrite running) ... progress(rewrite completed)
//	progress(retrieve running) ... progress(retrieve completed)
//	progress(enrich running) ... progress(enrich completed)
//	progress(filter running) ... progress(filter completed)
//	result | error
//
// Exactly one terminal frame (result or error) closes the sequence. A
// stage's completed/error frame always precedes the next stage's running
// frame; no stage repeats and none is skipped.
package datatypes

// =============================================================================
// Stages
// =============================================================================

// SearchStage identifies one of the four ordered pipeline stages.
type SearchStage string

const (
	StageRewrite  SearchStage = "rewrite"
	StageRetrieve SearchStage = "retrieve"
	StageEnrich   SearchStage = "enrich"
	StageFilter   SearchStage = "filter"
)

// StageOrder lists the pipeline stages in execution order.
// Consumers use it to validate ordering; the orchestrator uses it to drive
// execution. Do not reorder.
var StageOrder = []SearchStage{StageRewrite, StageRetrieve, StageEnrich, StageFilter}

// StageStatus is the status carried by a progress frame.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageErrored   StageStatus = "error"
)

// =============================================================================
// Frame Names
// =============================================================================

// Frame names on the SSE wire. Each frame is `event: <name>` followed by a
// JSON data payload.
const (
	FrameProgress = "progress"
	FrameResult   = "result"
	FrameError    = "error"
)

// =============================================================================
// Event Payloads
// =============================================================================

// StageEvent is the payload of a `progress` frame.
//
// # Fields
//
//   - Stage: Which pipeline stage this event describes
//   - Status: running, completed, or error
//   - Message: Human-readable progress text (e.g. "supplementing abstracts (3/12)")
//   - QuotaRemaining: Optional running remaining-quota hint; set on the first
//     progress frame after admission, nil elsewhere and for pro subjects
//
// # Assumptions
//
//   - Events for one request arrive in emission order (framer guarantee)
type StageEvent struct {
	ID             string      `json:"id,omitempty"`
	CreatedAt      int64       `json:"created_at,omitempty"`
	Stage          SearchStage `json:"stage"`
	Status         StageStatus `json:"status"`
	Message        string      `json:"message,omitempty"`
	QuotaRemaining *uint       `json:"quota_remaining,omitempty"`
}

// ResultEvent is the payload of the terminal `result` frame.
//
// PapersFoundBeforeFilter counts retrieval output prior to relevance
// filtering; Papers is the filtered, ordered list. QuotaRemaining is set for
// counted subjects and nil for pro.
type ResultEvent struct {
	ID                      string  `json:"id,omitempty"`
	CreatedAt               int64   `json:"created_at,omitempty"`
	OriginalQuery           string  `json:"original_query"`
	Keywords                string  `json:"keywords"`
	PapersFoundBeforeFilter uint    `json:"papers_found_before_filter"`
	Papers                  []Paper `json:"papers"`
	QuotaRemaining          *uint   `json:"quota_remaining,omitempty"`
	Message                 string  `json:"message,omitempty"`
}

// ErrorEvent is the payload of the terminal `error` frame.
//
// Codes are coarse categories, not internal error text (SEC-005: internal
// details stay server-side).
type ErrorEvent struct {
	ID        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Error codes carried by ErrorEvent and by pre-admission rejections.
const (
	ErrCodeQuotaExceeded   = "QUOTA_EXCEEDED"
	ErrCodeUpstreamFailure = "UPSTREAM_FAILURE"
	ErrCodeTimeout         = "TIMEOUT"
)
