// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

// s2Client builds a client against the fake server with the API rate
// limit lifted so tests run fast.
func s2Client(server *httptest.Server) *SemanticScholarClient {
	client := NewSemanticScholarClient("key", testLogger()).WithBaseURL(server.URL)
	client.limiter = rate.NewLimiter(rate.Inf, 1)
	return client
}

// s2Server fakes the three Graph API endpoints the client touches.
func s2Server(t *testing.T, batch map[string]string, titleHits map[string]struct {
	Abstract string
	Year     int
}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/paper/batch":
			var body struct {
				IDs []string `json:"ids"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			out := make([]map[string]any, len(body.IDs))
			for i, id := range body.IDs {
				doi := id[len("DOI:"):]
				if abs, ok := batch[doi]; ok {
					out[i] = map[string]any{"abstract": abs}
				}
			}
			_ = json.NewEncoder(w).Encode(out)
		case r.URL.Path == "/paper/search":
			query := r.URL.Query().Get("query")
			hit, ok := titleHits[query]
			if !ok {
				_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"abstract": hit.Abstract, "year": hit.Year}},
			})
		default:
			// Single DOI lookup: /paper/DOI:<doi>
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEnrich_BatchFillsDOIPapers(t *testing.T) {
	server := s2Server(t, map[string]string{"10.1234/a": "batch abstract"}, nil)
	client := s2Client(server)

	papers := []datatypes.Paper{
		{Title: "A", DOI: "10.1234/a"},
		{Title: "Already", DOI: "10.1234/b", Abstract: "kept", AbstractSource: datatypes.AbstractFromCrossRef},
	}
	withAbstract, err := client.Enrich(context.Background(), papers, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, withAbstract)
	assert.Equal(t, "batch abstract", papers[0].Abstract)
	assert.Equal(t, datatypes.AbstractFromS2Batch, papers[0].AbstractSource)
	// Pre-existing abstracts are never overwritten.
	assert.Equal(t, "kept", papers[1].Abstract)
	assert.Equal(t, datatypes.AbstractFromCrossRef, papers[1].AbstractSource)
}

func TestEnrich_MalformedDOISkipsBatchPass(t *testing.T) {
	// A DOI that fails sanitization never reaches the batch endpoint; the
	// paper falls through to the title-search pass instead.
	server := s2Server(t, map[string]string{"10.1/a": "should not be reachable"}, nil)
	client := s2Client(server)

	papers := []datatypes.Paper{{Title: "A", DOI: "10.1/a"}}
	withAbstract, err := client.Enrich(context.Background(), papers, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, withAbstract)
	assert.Empty(t, papers[0].Abstract)
}

func TestEnrich_TitleSearchFallback(t *testing.T) {
	server := s2Server(t, nil, map[string]struct {
		Abstract string
		Year     int
	}{
		"Findable Paper": {Abstract: "found by title", Year: 2023},
	})
	client := s2Client(server)

	papers := []datatypes.Paper{{Title: "Findable Paper", Year: 2023}}
	_, err := client.Enrich(context.Background(), papers, nil)
	require.NoError(t, err)

	assert.Equal(t, "found by title", papers[0].Abstract)
	assert.Equal(t, datatypes.AbstractFromS2TitleSearch, papers[0].AbstractSource)
}

func TestEnrich_TitleSearchRejectsYearMismatch(t *testing.T) {
	server := s2Server(t, nil, map[string]struct {
		Abstract string
		Year     int
	}{
		"Old Paper": {Abstract: "wrong paper", Year: 2010},
	})
	client := s2Client(server)

	papers := []datatypes.Paper{{Title: "Old Paper", Year: 2023}}
	_, err := client.Enrich(context.Background(), papers, nil)
	require.NoError(t, err)

	assert.Empty(t, papers[0].Abstract)
}

func TestEnrich_WithoutAPIKeyIsNoOp(t *testing.T) {
	client := NewSemanticScholarClient("", testLogger())

	papers := []datatypes.Paper{
		{Title: "A", DOI: "10.1234/a"},
		{Title: "B", Abstract: "from crossref", AbstractSource: datatypes.AbstractFromCrossRef},
	}
	withAbstract, err := client.Enrich(context.Background(), papers, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, withAbstract)
	assert.Empty(t, papers[0].Abstract)
}

func TestEnrich_ReportsSinglePassProgress(t *testing.T) {
	server := s2Server(t, nil, nil)
	client := s2Client(server)

	papers := []datatypes.Paper{{Title: "One"}, {Title: "Two"}}
	var seen [][2]int
	_, err := client.Enrich(context.Background(), papers, func(done, total int, _ string) {
		seen = append(seen, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, seen)
}
