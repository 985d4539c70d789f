// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streamview

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures which conversations produced visible updates.
type recordingSink struct {
	mu      sync.Mutex
	stages  []string
	results []string
	errors  []string
}

func (s *recordingSink) StageChanged(id string, _ ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, id)
}

func (s *recordingSink) ResultArrived(id string, _ SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, id)
}

func (s *recordingSink) ErrorArrived(id string, _ StreamError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, id)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const happyStream = "event: progress\ndata: {\"id\":\"f1\",\"stage\":\"rewrite\",\"status\":\"running\",\"quota_remaining\":2}\n\n" +
	"event: progress\ndata: {\"id\":\"f2\",\"stage\":\"rewrite\",\"status\":\"completed\"}\n\n" +
	"event: result\ndata: {\"id\":\"f3\",\"original_query\":\"q\",\"keywords\":\"kw\",\"papers\":[{\"title\":\"P\"}],\"message\":\"done\"}\n\n"

func TestConsume_ResultAppliedToBoundConversation(t *testing.T) {
	sink := &recordingSink{}
	consumer := NewConsumer(sink, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	outcome, err := consumer.Consume(req, strings.NewReader(happyStream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResult, outcome)

	conv, ok := consumer.Conversation("a")
	require.True(t, ok)
	assert.Equal(t, "kw", conv.Keywords)
	require.Len(t, conv.Papers, 1)
	assert.Equal(t, "P", conv.Papers[0].Title)
	assert.Equal(t, []string{"done"}, conv.Messages)
	require.NotNil(t, conv.QuotaHint)
	assert.Equal(t, uint(2), *conv.QuotaHint)
	assert.Nil(t, conv.LastError)

	assert.Equal(t, []string{"a"}, sink.results)
}

func TestConsume_BindingSurvivesViewSwitch(t *testing.T) {
	sink := &recordingSink{}
	consumer := NewConsumer(sink, quietLogger())
	consumer.SetActive("a")
	consumer.SetActive("b")
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")

	// User switches to B before the terminal frame lands.
	consumer.SetActive("b")

	outcome, err := consumer.Consume(req, strings.NewReader(happyStream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResult, outcome)

	// Result is stored under A.
	convA, _ := consumer.Conversation("a")
	assert.Len(t, convA.Papers, 1)

	// B's state and B's view are untouched.
	convB, _ := consumer.Conversation("b")
	assert.Empty(t, convB.Papers)
	assert.Empty(t, sink.results, "no visible update while A is backgrounded")
	assert.Empty(t, sink.stages)
}

func TestConsume_ErrorFrameIsTheOnlyTerminal(t *testing.T) {
	stream := "event: progress\ndata: {\"stage\":\"retrieve\",\"status\":\"running\"}\n\n" +
		"event: error\ndata: {\"code\":\"TIMEOUT\",\"message\":\"search timed out\"}\n\n"
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	outcome, err := consumer.Consume(req, strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)

	conv, _ := consumer.Conversation("a")
	require.NotNil(t, conv.LastError)
	assert.Equal(t, "TIMEOUT", conv.LastError.Code)
}

func TestConsume_GarbledResultStillCountsAsTerminal(t *testing.T) {
	stream := "event: progress\ndata: {\"stage\":\"rewrite\",\"status\":\"running\"}\n\n" +
		"event: result\ndata: {\"original_query\": \"q\", \"papers\": [{\"titl\n\n"
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	outcome, err := consumer.Consume(req, strings.NewReader(stream))
	assert.Equal(t, OutcomeResult, outcome)
	assert.ErrorIs(t, err, ErrGarbledResult)

	// No synthetic "no result" error lands on the conversation.
	conv, _ := consumer.Conversation("a")
	assert.Nil(t, conv.LastError)
}

func TestConsume_NoTerminalSynthesizesGenericError(t *testing.T) {
	stream := "event: progress\ndata: {\"stage\":\"rewrite\",\"status\":\"running\"}\n\n"
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	outcome, err := consumer.Consume(req, strings.NewReader(stream))
	assert.Equal(t, OutcomeError, outcome)
	assert.ErrorIs(t, err, ErrNoTerminal)

	conv, _ := consumer.Conversation("a")
	require.NotNil(t, conv.LastError)
	assert.Equal(t, "NO_RESULT", conv.LastError.Code)
}

func TestConsume_CancelledIsSilent(t *testing.T) {
	sink := &recordingSink{}
	consumer := NewConsumer(sink, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	req.Cancel()

	outcome, err := consumer.Consume(req, strings.NewReader(happyStream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)

	// Silent: no synthetic error reaches the conversation or the view.
	conv, _ := consumer.Conversation("a")
	assert.Nil(t, conv.LastError)
	assert.Empty(t, sink.errors)
}

func TestStartSearch_SupersedesInFlightRequest(t *testing.T) {
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")

	first := consumer.StartSearch(context.Background(), "a", "q1")
	second := consumer.StartSearch(context.Background(), "a", "q2")

	assert.Error(t, first.Context().Err(), "superseded request must be cancelled")
	assert.NoError(t, second.Context().Err())

	outcome, err := consumer.Consume(first, strings.NewReader(happyStream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
}

func TestDelete_DiscardsInFlightResult(t *testing.T) {
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	consumer.Delete("a")

	outcome, err := consumer.Consume(req, strings.NewReader(happyStream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)

	_, ok := consumer.Conversation("a")
	assert.False(t, ok)
}

func TestConsume_DuplicateFramesAppliedOnce(t *testing.T) {
	dupResult := "event: result\ndata: {\"id\":\"r1\",\"papers\":[{\"title\":\"P\"}],\"message\":\"done\"}\n\n"
	stream := dupResult + dupResult
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")

	req := consumer.StartSearch(context.Background(), "a", "q")
	outcome, err := consumer.Consume(req, strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResult, outcome)

	conv, _ := consumer.Conversation("a")
	assert.Equal(t, []string{"done"}, conv.Messages, "duplicate result must not double-append")
}

func TestConsume_ConcurrentConversationsDoNotCrossContaminate(t *testing.T) {
	consumer := NewConsumer(nil, quietLogger())
	consumer.SetActive("a")
	reqA := consumer.StartSearch(context.Background(), "a", "qa")
	reqB := consumer.StartSearch(context.Background(), "b", "qb")

	streamB := "event: result\ndata: {\"keywords\":\"kb\",\"papers\":[{\"title\":\"B\"}]}\n\n"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = consumer.Consume(reqA, strings.NewReader(happyStream))
	}()
	go func() {
		defer wg.Done()
		_, _ = consumer.Consume(reqB, strings.NewReader(streamB))
	}()
	wg.Wait()

	convA, _ := consumer.Conversation("a")
	convB, _ := consumer.Conversation("b")
	require.Len(t, convA.Papers, 1)
	require.Len(t, convB.Papers, 1)
	assert.Equal(t, "P", convA.Papers[0].Title)
	assert.Equal(t, "B", convB.Papers[0].Title)
}
