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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wireSample = "event: progress\ndata: {\"stage\":\"rewrite\",\"status\":\"running\"}\n\n" +
	": ping\n\n" +
	"event: progress\ndata: {\"stage\":\"rewrite\",\"status\":\"completed\"}\n\n" +
	"event: result\ndata: {\"original_query\":\"q\",\"papers\":[]}\n\n"

func decodeAll(decoder *FrameDecoder, chunks ...[]byte) []Frame {
	var frames []Frame
	for _, chunk := range chunks {
		frames = append(frames, decoder.Feed(chunk)...)
	}
	return append(frames, decoder.Close()...)
}

func TestFeed_WholeStreamInOneRead(t *testing.T) {
	frames := decodeAll(NewFrameDecoder(), []byte(wireSample))
	require.Len(t, frames, 3)
	assert.Equal(t, "progress", frames[0].Event)
	assert.Equal(t, "progress", frames[1].Event)
	assert.Equal(t, "result", frames[2].Event)
	assert.JSONEq(t, `{"original_query":"q","papers":[]}`, string(frames[2].Data))
}

func TestFeed_EveryByteBoundaryYieldsSameFrames(t *testing.T) {
	want := decodeAll(NewFrameDecoder(), []byte(wireSample))
	raw := []byte(wireSample)

	for cut := 1; cut < len(raw); cut++ {
		got := decodeAll(NewFrameDecoder(), raw[:cut], raw[cut:])
		require.Equal(t, want, got, "split at byte %d changed the decoded frames", cut)
	}
}

func TestFeed_OneByteAtATime(t *testing.T) {
	decoder := NewFrameDecoder()
	var frames []Frame
	for _, b := range []byte(wireSample) {
		frames = append(frames, decoder.Feed([]byte{b})...)
	}
	frames = append(frames, decoder.Close()...)
	assert.Equal(t, decodeAll(NewFrameDecoder(), []byte(wireSample)), frames)
}

func TestClose_FlushesTrailingPartialFrame(t *testing.T) {
	// Stream cut right after the data line, before the blank line.
	decoder := NewFrameDecoder()
	frames := decoder.Feed([]byte("event: result\ndata: {\"original_query\":\"q\"}"))
	assert.Empty(t, frames)

	flushed := decoder.Close()
	require.Len(t, flushed, 1)
	assert.Equal(t, "result", flushed[0].Event)
}

func TestFeed_KeepAliveCommentsDropped(t *testing.T) {
	frames := decodeAll(NewFrameDecoder(), []byte(": ping\n\n: ping\n\n"))
	assert.Empty(t, frames)
}

func TestFeed_MultilineDataJoined(t *testing.T) {
	frames := decodeAll(NewFrameDecoder(), []byte("event: note\ndata: line one\ndata: line two\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "line one\nline two", string(frames[0].Data))
}

func TestParseEvent_GarbledResultIsStillTerminal(t *testing.T) {
	_, err := ParseEvent(Frame{Event: FrameResult, Data: []byte("{truncated")})
	assert.ErrorIs(t, err, ErrGarbledResult)

	_, err = ParseEvent(Frame{Event: FrameProgress, Data: []byte("{truncated")})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrGarbledResult)
}

func TestParseEvent_UnknownFrameRejected(t *testing.T) {
	_, err := ParseEvent(Frame{Event: "telemetry", Data: []byte("{}")})
	assert.Error(t, err)
}

func TestParseEvent_TypedPayloads(t *testing.T) {
	event, err := ParseEvent(Frame{
		Event: FrameProgress,
		Data:  []byte(`{"stage":"retrieve","status":"running","quota_remaining":2}`),
	})
	require.NoError(t, err)
	progress, ok := event.(ProgressUpdate)
	require.True(t, ok)
	assert.Equal(t, "retrieve", progress.Stage)
	require.NotNil(t, progress.QuotaRemaining)
	assert.Equal(t, uint(2), *progress.QuotaRemaining)

	event, err = ParseEvent(Frame{
		Event: FrameError,
		Data:  []byte(`{"code":"TIMEOUT","message":"search timed out"}`),
	})
	require.NoError(t, err)
	streamErr, ok := event.(StreamError)
	require.True(t, ok)
	assert.Equal(t, "TIMEOUT", streamErr.Code)
}

func ExampleFrameDecoder() {
	decoder := NewFrameDecoder()
	frames := decoder.Feed([]byte("event: progress\ndata: {\"stage\":\"rewrite\"}\n\n"))
	fmt.Println(frames[0].Event)
	// Output: progress
}
