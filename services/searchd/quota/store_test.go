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
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func anonSubject() Subject {
	return Subject{Kind: SubjectAnon, ID: uuid.NewString()}
}

func TestConsume_AnonCountsDownToZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := anonSubject()

	for want := AnonLimit - 1; ; want-- {
		remaining, err := store.Consume(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, uint(want), remaining)
		if want == 0 {
			break
		}
	}

	_, err := store.Consume(ctx, subject)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Denials must not disturb the counter.
	_, err = store.Consume(ctx, subject)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	usage, err := store.QuotaInfo(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint(AnonLimit), usage.UsedCount)
}

func TestConsume_ConcurrentExactlyLimitSuccesses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := anonSubject()

	const workers = 32
	var successes, denials atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, subject)
			switch {
			case err == nil:
				successes.Add(1)
			default:
				assert.ErrorIs(t, err, ErrQuotaExceeded)
				denials.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(AnonLimit), successes.Load())
	assert.Equal(t, int64(workers-AnonLimit), denials.Load())

	usage, err := store.QuotaInfo(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint(AnonLimit), usage.UsedCount)
	assert.Equal(t, uint(0), usage.Remaining)
}

func TestConsume_ProNeverDenied(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := Subject{Kind: SubjectPro, ID: uuid.NewString()}

	for i := 0; i < 100; i++ {
		remaining, err := store.Consume(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, uint(UnboundedRemaining), remaining)
	}

	// Pro consumption writes no counter row.
	usage, err := store.QuotaInfo(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint(0), usage.UsedCount)
}

func TestConsume_SubjectsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := anonSubject()
	second := anonSubject()

	for i := uint(0); i < AnonLimit; i++ {
		_, err := store.Consume(ctx, first)
		require.NoError(t, err)
	}
	_, err := store.Consume(ctx, first)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	remaining, err := store.Consume(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, uint(AnonLimit-1), remaining)
}

func TestConsume_FreeLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := Subject{Kind: SubjectFree, ID: uuid.NewString()}

	var last uint
	for i := uint(0); i < FreeLimit; i++ {
		remaining, err := store.Consume(ctx, subject)
		require.NoError(t, err)
		last = remaining
	}
	assert.Equal(t, uint(0), last)

	_, err := store.Consume(ctx, subject)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestQuotaInfo_UnknownSubjectReportsFullQuota(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := anonSubject()

	usage, err := store.QuotaInfo(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint(0), usage.UsedCount)
	assert.Equal(t, uint(AnonLimit), usage.Remaining)
	assert.Equal(t, uint(AnonLimit), usage.Limit)

	// Reading must not create the row or spend quota.
	usage, err = store.QuotaInfo(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint(0), usage.UsedCount)
}

func TestReset_RestoresQuota(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := anonSubject()

	for i := uint(0); i < AnonLimit; i++ {
		_, err := store.Consume(ctx, subject)
		require.NoError(t, err)
	}
	_, err := store.Consume(ctx, subject)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, store.Reset(ctx, subject.ID))

	remaining, err := store.Consume(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint(AnonLimit-1), remaining)
}

func TestEnsureProfile_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	created, err := store.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	assert.False(t, created)

	plan, err := store.Plan(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "free", plan)
}

func TestPlan_UnknownUserDefaultsToFree(t *testing.T) {
	store := newTestStore(t)
	plan, err := store.Plan(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, "free", plan)
}

func TestSetPlan_UpgradeSurvivesEnsure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	require.NoError(t, store.SetPlan(ctx, userID, "pro"))

	// A later ensure must not downgrade the plan.
	created, err := store.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	assert.False(t, created)

	plan, err := store.Plan(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "pro", plan)

	assert.Error(t, store.SetPlan(ctx, userID, "platinum"))
}
