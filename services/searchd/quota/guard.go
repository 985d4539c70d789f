// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quota

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Guard
// =============================================================================

// Consumer is the single store capability the guard needs. The SQLite
// Store satisfies it; tests substitute fakes.
type Consumer interface {
	Consume(ctx context.Context, subject Subject) (uint, error)
}

// Admission is the outcome of a successful quota gate: the resolved
// subject plus its post-consume remaining. Remaining is nil for pro
// subjects, whose responses omit the counter.
type Admission struct {
	Subject   Subject
	Remaining *uint
}

// Guard gates quota-consuming operations.
//
// # Description
//
// Admit performs the fail-closed consume before any streaming begins: a
// denial must surface as a plain HTTP error, never mid-stream. Callers
// invoke Admit exactly once per search request, before writing response
// headers.
type Guard struct {
	store Consumer
}

// NewGuard creates a Guard backed by the given consumer.
func NewGuard(store Consumer) *Guard {
	return &Guard{store: store}
}

// Admit consumes one quota unit for the subject, or denies.
//
// # Outputs
//
//   - Admission: The subject and remaining count on success. Remaining is
//     nil for pro subjects.
//   - error: ErrQuotaExceeded on denial; anything else is a storage
//     failure the handler should surface as a 500.
func (g *Guard) Admit(ctx context.Context, subject Subject) (Admission, error) {
	remaining, err := g.store.Consume(ctx, subject)
	if errors.Is(err, ErrQuotaExceeded) {
		return Admission{Subject: subject}, ErrQuotaExceeded
	}
	if err != nil {
		return Admission{}, fmt.Errorf("quota admit: %w", err)
	}

	admission := Admission{Subject: subject}
	if subject.Counted() {
		admission.Remaining = &remaining
	}
	return admission, nil
}
