// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quota implements the quota-consumption subsystem for searchd.
//
// Three subject kinds exist: anonymous visitors identified by a
// client-generated UUID, registered free-plan users, and registered
// pro-plan users. Anonymous and free subjects carry a durable usage
// counter; pro subjects are never counted.
//
// The one correctness-critical invariant in this package is that the
// check-and-increment in Store.Consume is a single atomic unit: two
// concurrent consumes for the same subject must never both succeed when
// only one unit remains. See store.go.
package quota

import "fmt"

// =============================================================================
// Subject
// =============================================================================

// SubjectKind is the tag of the Subject variant.
type SubjectKind string

const (
	// SubjectAnon is a visitor identified by a client-persisted UUID.
	SubjectAnon SubjectKind = "anon"
	// SubjectFree is an authenticated user on the free plan.
	SubjectFree SubjectKind = "free"
	// SubjectPro is an authenticated user on the pro plan (not counted).
	SubjectPro SubjectKind = "pro"
)

// Subject is the quota-bearing identity attached to one request.
//
// # Description
//
// Subject is a tagged variant rather than nullable fields: downstream code
// switches on Kind instead of probing for presence. A Subject is resolved
// from request credentials per request and never cached beyond the request.
//
// # Fields
//
//   - Kind: Which variant this is
//   - ID: UUID of the visitor or user
type Subject struct {
	Kind SubjectKind
	ID   string
}

// Counted reports whether this subject kind carries a usage counter.
func (s Subject) Counted() bool {
	return s.Kind != SubjectPro
}

// Limit returns the quota limit for the subject's kind. For pro subjects
// the value is UnboundedRemaining and is never enforced.
func (s Subject) Limit() uint {
	switch s.Kind {
	case SubjectAnon:
		return AnonLimit
	case SubjectFree:
		return FreeLimit
	default:
		return UnboundedRemaining
	}
}

// String returns a log-safe rendering of the subject.
func (s Subject) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// =============================================================================
// Limits
// =============================================================================

const (
	// AnonLimit is the lifetime search allowance of an anonymous visitor.
	AnonLimit uint = 3

	// FreeLimit is the search allowance of a registered free-plan user.
	FreeLimit uint = 50

	// UnboundedRemaining is the sentinel remaining value reported for pro
	// subjects. It is a display value only; no counter backs it.
	UnboundedRemaining uint = 999999
)
