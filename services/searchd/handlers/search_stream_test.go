// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
	"github.com/AleutianAI/scholarstream/services/searchd/middleware"
	"github.com/AleutianAI/scholarstream/services/searchd/quota"
	"github.com/AleutianAI/scholarstream/services/searchd/search"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frame is one decoded SSE frame from a recorded response.
type frame struct {
	Event string
	Data  map[string]any
}

// parseFrames decodes the SSE wire text into frames, ignoring comments.
func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var frames []frame
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var f frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.Data))
			}
		}
		if f.Event != "" {
			frames = append(frames, f)
		}
	}
	return frames
}

// searchRig is a fully wired streaming handler over a temp quota store
// and a fake CrossRef endpoint.
type searchRig struct {
	router *gin.Engine
	store  *quota.Store
}

func newSearchRig(t *testing.T, timeout time.Duration, crossrefURL string) *searchRig {
	t.Helper()
	store, err := quota.Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := testLogger()
	crossref := search.NewCrossRefClient(logger)
	if crossrefURL != "" {
		crossref.WithBaseURL(crossrefURL)
	}
	orch := search.NewOrchestrator(
		search.NewCatalog(nil),
		search.NewRewriter(nil, "", logger),
		crossref,
		search.NewSemanticScholarClient("", logger),
		search.NewFilter(nil, "", logger),
		logger,
	)
	handler := NewSearchHandler(quota.NewGuard(store), orch, nil, logger, timeout)

	router := gin.New()
	router.POST("/v1/paper_search",
		middleware.IdentityMiddleware(middleware.NewStaticVerifier(nil), store),
		handler.HandleSearchStream)
	return &searchRig{router: router, store: store}
}

func emptyWorksServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"items":[]}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func doSearch(rig *searchRig, anonID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/paper_search",
		strings.NewReader(`{"query":"causal inference","start_year":2020,"end_year":2024,"rows_each":2}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AnonIDHeader, anonID)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

func TestSearchStream_HappyPathSingleTerminalResult(t *testing.T) {
	rig := newSearchRig(t, 0, emptyWorksServer(t).URL)

	rec := doSearch(rig, uuid.NewString())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)

	// Exactly one terminal frame, and it is the last frame.
	terminals := 0
	for _, f := range frames {
		if f.Event == datatypes.FrameResult || f.Event == datatypes.FrameError {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	last := frames[len(frames)-1]
	assert.Equal(t, datatypes.FrameResult, last.Event)
	assert.Equal(t, "causal inference", last.Data["original_query"])
	assert.NotNil(t, last.Data["papers"], "papers must be an array, not null")

	// Anon remaining after one consume is limit-1.
	assert.Equal(t, float64(quota.AnonLimit-1), last.Data["quota_remaining"])
}

func TestSearchStream_StagesRelayedInOrder(t *testing.T) {
	rig := newSearchRig(t, 0, emptyWorksServer(t).URL)

	frames := parseFrames(t, doSearch(rig, uuid.NewString()).Body.String())

	var running []string
	for _, f := range frames {
		if f.Event != datatypes.FrameProgress {
			continue
		}
		if f.Data["status"] == string(datatypes.StageRunning) {
			stage := f.Data["stage"].(string)
			if len(running) == 0 || running[len(running)-1] != stage {
				running = append(running, stage)
			}
		}
	}
	assert.Equal(t, []string{"rewrite", "retrieve", "enrich", "filter"}, running)
}

func TestSearchStream_FirstProgressFrameCarriesQuota(t *testing.T) {
	rig := newSearchRig(t, 0, emptyWorksServer(t).URL)

	frames := parseFrames(t, doSearch(rig, uuid.NewString()).Body.String())
	require.NotEmpty(t, frames)
	first := frames[0]
	require.Equal(t, datatypes.FrameProgress, first.Event)
	assert.Equal(t, float64(quota.AnonLimit-1), first.Data["quota_remaining"])

	// Subsequent progress frames omit the counter.
	for _, f := range frames[1 : len(frames)-1] {
		if f.Event == datatypes.FrameProgress {
			assert.NotContains(t, f.Data, "quota_remaining")
		}
	}
}

func TestSearchStream_ExhaustedQuotaGetsPlain402NoFrames(t *testing.T) {
	rig := newSearchRig(t, 0, emptyWorksServer(t).URL)
	anonID := uuid.NewString()

	for i := uint(0); i < quota.AnonLimit; i++ {
		rec := doSearch(rig, anonID)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doSearch(rig, anonID)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, rec.Body.String(), "event:", "denied request must produce no SSE frames")

	var body datatypes.QuotaExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, datatypes.ErrCodeQuotaExceeded, body.Code)
	assert.Equal(t, uint(0), body.Remaining)
}

func TestSearchStream_TimeoutEmitsErrorFrame(t *testing.T) {
	// CrossRef hangs until the request context dies.
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	rig := newSearchRig(t, 100*time.Millisecond, server.URL)

	rec := doSearch(rig, uuid.NewString())
	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	require.Equal(t, datatypes.FrameError, last.Event)
	assert.Equal(t, datatypes.ErrCodeTimeout, last.Data["code"])

	terminals := 0
	for _, f := range frames {
		if f.Event == datatypes.FrameResult || f.Event == datatypes.FrameError {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestSearchStream_InvalidBodyIs400BeforeConsume(t *testing.T) {
	rig := newSearchRig(t, 0, emptyWorksServer(t).URL)
	anonID := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/v1/paper_search",
		strings.NewReader(`{"query":"","start_year":2024,"end_year":2020}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AnonIDHeader, anonID)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The failed request must not have spent quota.
	rec = doSearch(rig, anonID)
	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, float64(quota.AnonLimit-1), frames[0].Data["quota_remaining"])
}
