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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// Errors
// =============================================================================

// ErrQuotaExceeded is returned by Consume when the subject has no quota
// left. It is the only denial the guard maps to a 402; every other error
// is an internal failure.
var ErrQuotaExceeded = errors.New("quota exceeded")

// =============================================================================
// Store
// =============================================================================

// Store manages durable quota counters backed by SQLite.
//
// # Description
//
// Store holds two tables: quota_usage (subject_id, kind, used_count) and
// profiles (user_id, plan). Counters are mutated exclusively through
// Consume; Reset/ResetAll exist for out-of-band administration only.
//
// # Concurrency
//
// Multiple server processes may share one database file. Serialization
// therefore happens in the storage engine, not via an application lock:
// Consume's check-and-increment is a single conditional UPDATE guarded by
// the pre-increment predicate, so SQLite's write serialization makes the
// whole unit atomic. WAL mode plus busy_timeout keeps concurrent writers
// from failing fast under contention.
//
// # Limitations
//
//   - No idempotency: a caller retrying after a network failure may
//     double-consume. Accepted limitation, not silently fixed.
//   - No refunds: quota consumed for a search that later fails stays
//     consumed.
type Store struct {
	db *sql.DB
}

// Open initializes or connects to the quota database and creates the
// schema if absent.
//
// # Inputs
//
//   - path: SQLite database file path; tests point this at a temp dir.
//
// # Outputs
//
//   - *Store: Ready for use.
//   - error: Non-nil if the database cannot be opened or migrated.
func Open(path string) (*Store, error) {
	// Pragmas go through the DSN so every pooled connection gets them;
	// an Exec-ed PRAGMA only configures whichever connection ran it,
	// leaving the rest with busy_timeout=0 under write contention.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open quota db: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS quota_usage (
            subject_id TEXT PRIMARY KEY,
            kind       TEXT NOT NULL,
            used_count INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0),
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS profiles (
            user_id    TEXT PRIMARY KEY,
            plan       TEXT NOT NULL DEFAULT 'free' CHECK (plan IN ('free','pro')),
            created_at TEXT NOT NULL
        )`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate quota schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Consume
// =============================================================================

// Consume atomically spends one quota unit for the subject.
//
// # Description
//
// For pro subjects Consume always succeeds with the unbounded sentinel and
// touches no row. For counted subjects it (a) lazily creates the usage row
// with used_count=0 on first sight — a creation race surfaces as "row
// already exists", which is success-of-precondition, never an error to the
// caller — then (b) increments used_count only if used_count < limit, in
// one conditional UPDATE. The check and the increment are therefore a
// single atomic unit: under any interleaving of N concurrent calls on a
// fresh subject with limit L, exactly L succeed.
//
// # Inputs
//
//   - ctx: Cancels the database round-trip.
//   - subject: Resolved request subject.
//
// # Outputs
//
//   - uint: Post-increment remaining (limit - used_count), or the
//     unbounded sentinel for pro subjects.
//   - error: ErrQuotaExceeded when the pre-check fails; other errors are
//     storage failures.
func (s *Store) Consume(ctx context.Context, subject Subject) (uint, error) {
	if subject.Kind == SubjectPro {
		return UnboundedRemaining, nil
	}
	if subject.ID == "" {
		return 0, fmt.Errorf("consume: empty subject id")
	}

	limit := subject.Limit()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	// Lazy row creation. ON CONFLICT DO NOTHING absorbs the creation race:
	// losing the insert race means the precondition (row exists) holds.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_usage (subject_id, kind, used_count, created_at, updated_at)
         VALUES (?, ?, 0, ?, ?)
         ON CONFLICT(subject_id) DO NOTHING`,
		subject.ID, string(subject.Kind), now, now,
	); err != nil {
		return 0, fmt.Errorf("consume: ensure usage row: %w", err)
	}

	// The atomic check-and-increment. The WHERE predicate evaluates against
	// the pre-increment value inside SQLite's write lock, so no two calls
	// can both pass it for the final unit.
	var used uint
	err := s.db.QueryRowContext(ctx,
		`UPDATE quota_usage
            SET used_count = used_count + 1, updated_at = ?
          WHERE subject_id = ? AND used_count < ?
      RETURNING used_count`,
		now, subject.ID, limit,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("consume: increment usage: %w", err)
	}

	return limit - used, nil
}

// =============================================================================
// Read-Only Queries
// =============================================================================

// Usage describes the current counter state of one subject.
type Usage struct {
	Plan      string
	Limit     uint
	UsedCount uint
	Remaining uint
}

// QuotaInfo returns the subject's counter state without consuming.
//
// A never-seen counted subject reports used_count 0 against its kind's
// limit; no row is created. Pro subjects report the unbounded sentinel.
func (s *Store) QuotaInfo(ctx context.Context, subject Subject) (Usage, error) {
	if subject.Kind == SubjectPro {
		return Usage{Plan: "pro", Limit: UnboundedRemaining, UsedCount: 0, Remaining: UnboundedRemaining}, nil
	}

	limit := subject.Limit()
	var used uint
	err := s.db.QueryRowContext(ctx,
		`SELECT used_count FROM quota_usage WHERE subject_id = ?`, subject.ID,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		used = 0
	} else if err != nil {
		return Usage{}, fmt.Errorf("quota info: %w", err)
	}

	remaining := uint(0)
	if used < limit {
		remaining = limit - used
	}

	plan := ""
	if subject.Kind == SubjectFree {
		plan = "free"
	}
	return Usage{Plan: plan, Limit: limit, UsedCount: used, Remaining: remaining}, nil
}

// =============================================================================
// Profiles
// =============================================================================

// Plan looks up a registered user's plan. A missing profile row means the
// user has never been provisioned; callers treat that as the free plan.
func (s *Store) Plan(ctx context.Context, userID string) (string, error) {
	var plan string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan FROM profiles WHERE user_id = ?`, userID,
	).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "free", nil
	}
	if err != nil {
		return "", fmt.Errorf("plan lookup: %w", err)
	}
	return plan, nil
}

// EnsureProfile lazily creates the free-plan profile row for a registered
// user. Returns true when a row was created, false when it already existed.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("ensure profile: empty user id")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, plan, created_at) VALUES (?, 'free', ?)
         ON CONFLICT(user_id) DO NOTHING`,
		userID, now,
	)
	if err != nil {
		return false, fmt.Errorf("ensure profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure profile rows: %w", err)
	}
	return n == 1, nil
}

// SetPlan updates a user's plan. Administrative; the runtime protocol never
// calls it.
func (s *Store) SetPlan(ctx context.Context, userID, plan string) error {
	if plan != "free" && plan != "pro" {
		return fmt.Errorf("set plan: unknown plan %q", plan)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, plan, created_at) VALUES (?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET plan = excluded.plan`,
		userID, plan, now,
	); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

// =============================================================================
// Administration
// =============================================================================

// Reset zeroes one subject's counter. Out-of-band administrative action;
// not part of the runtime protocol.
func (s *Store) Reset(ctx context.Context, subjectID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE quota_usage SET used_count = 0, updated_at = ? WHERE subject_id = ?`,
		now, subjectID,
	); err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}

// ResetAll zeroes every counter. Out-of-band administrative action.
func (s *Store) ResetAll(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE quota_usage SET used_count = 0, updated_at = ?`, now,
	); err != nil {
		return fmt.Errorf("reset all quotas: %w", err)
	}
	return nil
}
