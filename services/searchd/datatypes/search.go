// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the search endpoints,
// including the full streaming pipeline request and the discrete
// rewrite/retrieval/filtering requests.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a search query.
	// Oversized queries are rejected before any quota is consumed.
	MaxQueryBytes = 4 * 1024

	// MaxVenuesPerRequest bounds the venue fan-out per request.
	MaxVenuesPerRequest = 64

	// MaxRowsEach bounds the per-venue result count requested from CrossRef.
	MaxRowsEach = 100

	// MinSearchYear and MaxSearchYear bound the accepted year range.
	MinSearchYear = 1900
	MaxSearchYear = 2100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// searchValidate is the validator instance for search datatypes.
var searchValidate *validator.Validate

func init() {
	searchValidate = validator.New()
	_ = searchValidate.RegisterValidation("querybytes", validateQueryBytes)
}

// validateQueryBytes enforces MaxQueryBytes on a string field.
// Byte length, not rune count, so multi-byte input cannot bypass the cap.
func validateQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Streaming Search Request
// =============================================================================

// PaperSearchRequest is the body of POST /v1/paper_search.
//
// # Description
//
// Carries the user query plus venue and year filters for the full streaming
// pipeline (rewrite → retrieve → enrich → filter). Venues may be empty, in
// which case the whole catalog is searched.
//
// # Fields
//
//   - Query: Non-empty user query, natural language, any script
//   - Venues: Venue codes to search; empty means all
//   - StartYear/EndYear: Inclusive publication-year window
//   - RowsEach: Papers requested per venue from CrossRef
//
// # Limitations
//
//   - EndYear >= StartYear is enforced by Validate, not by tags
type PaperSearchRequest struct {
	Query     string   `json:"query" validate:"required,querybytes"`
	Venues    []string `json:"venues" validate:"max=64,dive,min=1,max=64"`
	StartYear int      `json:"start_year" validate:"gte=1900,lte=2100"`
	EndYear   int      `json:"end_year" validate:"gte=1900,lte=2100"`
	RowsEach  int      `json:"rows_each" validate:"gte=0,lte=100"`
}

// Validate checks the request against the validation tags plus the
// cross-field year constraint. Call after binding and EnsureDefaults.
func (r *PaperSearchRequest) Validate() error {
	if err := searchValidate.Struct(r); err != nil {
		return fmt.Errorf("search request validation: %w", err)
	}
	if r.EndYear < r.StartYear {
		return fmt.Errorf("search request validation: end_year %d precedes start_year %d", r.EndYear, r.StartYear)
	}
	return nil
}

// EnsureDefaults fills zero-valued optional fields with their defaults.
// The year window defaults to last-year-through-this-year and RowsEach to 3,
// matching the web client's initial form state.
func (r *PaperSearchRequest) EnsureDefaults() {
	now := time.Now().Year()
	if r.StartYear == 0 {
		r.StartYear = now - 1
	}
	if r.EndYear == 0 {
		r.EndYear = now
	}
	if r.RowsEach == 0 {
		r.RowsEach = 3
	}
}

// =============================================================================
// Discrete Pipeline Requests
// =============================================================================

// QueryRewriteRequest is the body of POST /v1/query_rewrite.
type QueryRewriteRequest struct {
	Query string `json:"query" validate:"required,querybytes"`
}

// Validate checks the rewrite request.
func (r *QueryRewriteRequest) Validate() error {
	if err := searchValidate.Struct(r); err != nil {
		return fmt.Errorf("rewrite request validation: %w", err)
	}
	return nil
}

// QueryRewriteResponse is the body returned by POST /v1/query_rewrite.
type QueryRewriteResponse struct {
	OriginalQuery string `json:"original_query"`
	Keywords      string `json:"keywords"`
	Success       bool   `json:"success"`
}

// PaperRetrievalRequest is the body of POST /v1/paper_retrieval. The query
// here is the (already rewritten) keyword string, not the raw user query.
type PaperRetrievalRequest struct {
	Query     string   `json:"query" validate:"required,querybytes"`
	Venues    []string `json:"venues" validate:"max=64,dive,min=1,max=64"`
	StartYear int      `json:"start_year" validate:"gte=1900,lte=2100"`
	EndYear   int      `json:"end_year" validate:"gte=1900,lte=2100"`
	RowsEach  int      `json:"rows_each" validate:"gte=0,lte=100"`
}

// Validate checks the retrieval request including the year ordering.
func (r *PaperRetrievalRequest) Validate() error {
	if err := searchValidate.Struct(r); err != nil {
		return fmt.Errorf("retrieval request validation: %w", err)
	}
	if r.EndYear < r.StartYear {
		return fmt.Errorf("retrieval request validation: end_year %d precedes start_year %d", r.EndYear, r.StartYear)
	}
	return nil
}

// EnsureDefaults fills zero-valued optional fields, mirroring
// PaperSearchRequest.EnsureDefaults.
func (r *PaperRetrievalRequest) EnsureDefaults() {
	now := time.Now().Year()
	if r.StartYear == 0 {
		r.StartYear = now - 1
	}
	if r.EndYear == 0 {
		r.EndYear = now
	}
	if r.RowsEach == 0 {
		r.RowsEach = 3
	}
}

// PaperRetrievalResponse is the body returned by POST /v1/paper_retrieval.
type PaperRetrievalResponse struct {
	Query       string  `json:"query"`
	TotalPapers int     `json:"total_papers"`
	Papers      []Paper `json:"papers"`
	Success     bool    `json:"success"`
	Message     string  `json:"message,omitempty"`
}

// PaperFilteringRequest is the body of POST /v1/paper_filtering.
type PaperFilteringRequest struct {
	UserQuery string  `json:"user_query" validate:"required,querybytes"`
	Papers    []Paper `json:"papers" validate:"required"`
}

// Validate checks the filtering request.
func (r *PaperFilteringRequest) Validate() error {
	if err := searchValidate.Struct(r); err != nil {
		return fmt.Errorf("filtering request validation: %w", err)
	}
	return nil
}

// PaperFilteringResponse is the body returned by POST /v1/paper_filtering.
type PaperFilteringResponse struct {
	OriginalCount int     `json:"original_count"`
	FilteredCount int     `json:"filtered_count"`
	Papers        []Paper `json:"papers"`
	Success       bool    `json:"success"`
	Message       string  `json:"message,omitempty"`
}

// =============================================================================
// Quota Responses
// =============================================================================

// QuotaInfoResponse is the body returned by GET /v1/quota.
//
// Plan is "free" or "pro" for registered subjects and empty for anonymous
// ones. Remaining is never negative; for pro subjects Limit and Remaining
// carry the unbounded sentinel.
type QuotaInfoResponse struct {
	UserType  string `json:"user_type"`
	Plan      string `json:"plan,omitempty"`
	Remaining uint   `json:"remaining"`
	Limit     uint   `json:"limit"`
	UsedCount uint   `json:"used_count"`
}

// QuotaExceededResponse is the JSON body of the pre-admission 402 rejection.
// Sent before any stream bytes; clients must treat it as a call-to-action
// (register or upgrade), not a generic failure.
type QuotaExceededResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Remaining uint   `json:"remaining"`
}

// EnsureProfileRequest is the body of POST /v1/ensure_profile.
type EnsureProfileRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// Validate checks the ensure-profile request.
func (r *EnsureProfileRequest) Validate() error {
	if err := searchValidate.Struct(r); err != nil {
		return fmt.Errorf("ensure_profile request validation: %w", err)
	}
	return nil
}

// EnsureProfileResponse is the body returned by POST /v1/ensure_profile.
type EnsureProfileResponse struct {
	UserID  string `json:"user_id"`
	Created bool   `json:"created"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
