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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
	"github.com/AleutianAI/scholarstream/services/searchd/search"
)

func newPartsRouter(t *testing.T, crossrefURL string) *gin.Engine {
	t.Helper()
	logger := testLogger()
	crossref := search.NewCrossRefClient(logger)
	if crossrefURL != "" {
		crossref.WithBaseURL(crossrefURL)
	}
	handler := NewPipelineHandler(
		search.NewCatalog(nil),
		search.NewRewriter(nil, "", logger),
		crossref,
		search.NewFilter(nil, "", logger),
		nil,
		logger,
	)
	router := gin.New()
	router.POST("/v1/query_rewrite", handler.HandleQueryRewrite)
	router.POST("/v1/paper_retrieval", handler.HandlePaperRetrieval)
	router.POST("/v1/paper_filtering", handler.HandlePaperFiltering)
	return router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestQueryRewrite_NoLLMFallsBackToRawQuery(t *testing.T) {
	router := newPartsRouter(t, "")

	rec := postJSON(router, "/v1/query_rewrite", `{"query":"graph neural networks"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body datatypes.QueryRewriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "graph neural networks", body.OriginalQuery)
	assert.Equal(t, "graph neural networks", body.Keywords)
	assert.True(t, body.Success)
}

func TestQueryRewrite_EmptyQueryRejected(t *testing.T) {
	router := newPartsRouter(t, "")
	rec := postJSON(router, "/v1/query_rewrite", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaperRetrieval_ReturnsEmptyArrayNotNull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"items":[]}}`))
	}))
	t.Cleanup(server.Close)
	router := newPartsRouter(t, server.URL)

	rec := postJSON(router, "/v1/paper_retrieval",
		`{"query":"spectral clustering","venues":["JMLR"],"start_year":2020,"end_year":2024,"rows_each":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"papers":[]`)
	var body datatypes.PaperRetrievalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.TotalPapers)
	assert.True(t, body.Success)
}

func TestPaperRetrieval_YearOrderRejected(t *testing.T) {
	router := newPartsRouter(t, "")
	rec := postJSON(router, "/v1/paper_retrieval",
		`{"query":"q","start_year":2024,"end_year":2020}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaperFiltering_DropsPapersWithoutAbstract(t *testing.T) {
	router := newPartsRouter(t, "")

	rec := postJSON(router, "/v1/paper_filtering", `{
		"user_query": "causal inference",
		"papers": [
			{"title": "No abstract paper", "venue": "JMLR", "year": 2023},
			{"title": "Has abstract", "venue": "JMLR", "year": 2023, "abstract": "We study causal effects."}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body datatypes.PaperFilteringResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.OriginalCount)
	// Without an LLM the filter keeps every paper that has an abstract.
	assert.Equal(t, 1, body.FilteredCount)
	require.Len(t, body.Papers, 1)
	assert.Equal(t, "Has abstract", body.Papers[0].Title)
}

func TestPaperFiltering_MissingPapersRejected(t *testing.T) {
	router := newPartsRouter(t, "")
	rec := postJSON(router, "/v1/paper_filtering", `{"user_query":"q"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
