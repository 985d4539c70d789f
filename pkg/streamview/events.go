// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package streamview consumes the searchd SSE stream on behalf of a
// client UI. It decodes raw bytes into frames, parses frames into typed
// events, and reconciles those events into per-conversation state so a
// search started in one conversation never leaks into another.
package streamview

import (
	"encoding/json"
	"fmt"
)

// Frame names on the wire. These mirror the server contract.
const (
	FrameProgress = "progress"
	FrameResult   = "result"
	FrameError    = "error"
)

// Frame is one decoded SSE frame: a name and its raw JSON payload.
type Frame struct {
	Event string
	Data  []byte
}

// Paper is the client-side view of one retrieved paper.
type Paper struct {
	VenueCode            string   `json:"venue_code"`
	VenueType            string   `json:"venue_type"`
	Title                string   `json:"title"`
	Year                 int      `json:"year,omitempty"`
	JournalOrProceedings string   `json:"journal_or_proceedings"`
	DOI                  string   `json:"doi,omitempty"`
	URL                  string   `json:"url,omitempty"`
	Authors              []string `json:"authors"`
	Abstract             string   `json:"abstract,omitempty"`
}

// ProgressUpdate is a parsed `progress` frame.
type ProgressUpdate struct {
	ID             string `json:"id"`
	Stage          string `json:"stage"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	Detail         string `json:"detail"`
	QuotaRemaining *uint  `json:"quota_remaining"`
}

// SearchResult is a parsed `result` frame.
type SearchResult struct {
	ID                      string  `json:"id"`
	OriginalQuery           string  `json:"original_query"`
	Keywords                string  `json:"keywords"`
	PapersFoundBeforeFilter uint    `json:"papers_found_before_filter"`
	Papers                  []Paper `json:"papers"`
	QuotaRemaining          *uint   `json:"quota_remaining"`
	Message                 string  `json:"message"`
}

// StreamError is a parsed `error` frame.
type StreamError struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one of ProgressUpdate, SearchResult, or StreamError.
type Event any

// ErrGarbledResult marks a `result` frame whose payload failed to
// parse. Callers must still treat it as a received terminal frame so
// the user is not shown a false "no result received" error.
var ErrGarbledResult = fmt.Errorf("result frame payload unparseable")

// ParseEvent turns a frame into a typed event. Unknown frame names and
// unparseable payloads yield an error; only ErrGarbledResult carries
// terminal significance.
func ParseEvent(f Frame) (Event, error) {
	switch f.Event {
	case FrameProgress:
		var e ProgressUpdate
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return nil, fmt.Errorf("parse progress frame: %w", err)
		}
		return e, nil
	case FrameResult:
		var e SearchResult
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return nil, ErrGarbledResult
		}
		return e, nil
	case FrameError:
		var e StreamError
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return nil, fmt.Errorf("parse error frame: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown frame %q", f.Event)
	}
}
