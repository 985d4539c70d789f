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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/scholarstream/pkg/validation"
	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

const (
	semanticScholarBaseURL = "https://api.semanticscholar.org/graph/v1"

	// s2BatchSize is the maximum IDs per batch call.
	s2BatchSize = 100

	// s2YearTolerance bounds the year mismatch accepted on title-search
	// fallback before a hit is treated as a different paper.
	s2YearTolerance = 2
)

// =============================================================================
// Semantic Scholar Client
// =============================================================================

// SemanticScholarClient supplements missing abstracts from the Semantic
// Scholar Graph API.
//
// # Description
//
// Enrichment runs in two passes. The batch pass resolves every paper
// that has a DOI through POST /paper/batch, up to 100 IDs per call. The
// single pass then walks the remainder one by one: DOI lookup first if
// present, then title search with a year sanity check. Both passes are
// rate limited to 1 request/second, the unauthenticated tier's budget.
//
// Without an API key the client is a no-op: papers keep whatever
// abstract CrossRef gave them.
type SemanticScholarClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSemanticScholarClient creates a client. An empty apiKey disables
// enrichment rather than erroring.
func NewSemanticScholarClient(apiKey string, logger *slog.Logger) *SemanticScholarClient {
	return &SemanticScholarClient{
		baseURL: semanticScholarBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(1100*time.Millisecond), 1),
		logger:  logger,
	}
}

// WithBaseURL points the client at a different endpoint. Used by tests.
func (c *SemanticScholarClient) WithBaseURL(baseURL string) *SemanticScholarClient {
	c.baseURL = baseURL
	return c
}

// Enabled reports whether the client holds an API key.
func (c *SemanticScholarClient) Enabled() bool {
	return c.apiKey != ""
}

// EnrichProgress is invoked once per paper handled in the single-lookup
// pass, for incremental progress reporting. done counts papers handled
// so far out of total.
type EnrichProgress func(done, total int, title string)

// Enrich fills missing abstracts in place.
//
// # Outputs
//
//   - int: Papers that ended up with an abstract, over the whole slice.
//   - error: Non-nil only on context cancellation. API failures degrade
//     to fewer abstracts.
func (c *SemanticScholarClient) Enrich(ctx context.Context, papers []datatypes.Paper, progress EnrichProgress) (int, error) {
	if c.Enabled() {
		if err := c.enrichBatch(ctx, papers); err != nil {
			return 0, err
		}
		if err := c.enrichSingles(ctx, papers, progress); err != nil {
			return 0, err
		}
	}

	withAbstract := 0
	for i := range papers {
		if papers[i].HasAbstract() {
			withAbstract++
		}
	}
	return withAbstract, nil
}

// enrichBatch resolves DOI-bearing papers through the batch endpoint.
func (c *SemanticScholarClient) enrichBatch(ctx context.Context, papers []datatypes.Paper) error {
	var dois []string
	seen := make(map[string]bool)
	for i := range papers {
		if papers[i].HasAbstract() || papers[i].DOI == "" {
			continue
		}
		doi, err := validation.SanitizeDOI(papers[i].DOI)
		if err != nil || seen[doi] {
			continue
		}
		seen[doi] = true
		dois = append(dois, doi)
	}
	if len(dois) == 0 {
		return nil
	}

	abstracts := make(map[string]string)
	for start := 0; start < len(dois); start += s2BatchSize {
		end := min(start+s2BatchSize, len(dois))
		chunk := dois[start:end]
		if err := c.fetchBatch(ctx, chunk, abstracts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("semantic scholar batch failed", "error", err)
		}
	}

	for i := range papers {
		if papers[i].HasAbstract() {
			continue
		}
		doi, err := validation.SanitizeDOI(papers[i].DOI)
		if err != nil {
			continue
		}
		if abs, ok := abstracts[doi]; ok {
			papers[i].Abstract = abs
			papers[i].AbstractSource = datatypes.AbstractFromS2Batch
		}
	}
	return nil
}

func (c *SemanticScholarClient) fetchBatch(ctx context.Context, dois []string, out map[string]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ids := make([]string, len(dois))
	for i, doi := range dois {
		ids[i] = "DOI:" + doi
	}
	payload, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return fmt.Errorf("encode batch ids: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/paper/batch?fields=abstract", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("batch request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("batch endpoint returned %d", resp.StatusCode)
	}

	// The response array is positionally aligned with the request IDs;
	// unknown IDs come back as null entries.
	var results []*struct {
		Abstract string `json:"abstract"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return fmt.Errorf("decode batch response: %w", err)
	}
	for i, r := range results {
		if r == nil || r.Abstract == "" || i >= len(dois) {
			continue
		}
		out[strings.ToLower(dois[i])] = r.Abstract
	}
	return nil
}

// enrichSingles resolves the papers the batch pass left empty.
func (c *SemanticScholarClient) enrichSingles(ctx context.Context, papers []datatypes.Paper, progress EnrichProgress) error {
	var pending []int
	for i := range papers {
		if !papers[i].HasAbstract() {
			pending = append(pending, i)
		}
	}

	for done, idx := range pending {
		p := &papers[idx]
		abstract, source, err := c.fetchSingle(ctx, p.DOI, p.Title, p.Year)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("semantic scholar single lookup failed",
				"title", p.Title, "error", err)
		} else if abstract != "" {
			p.Abstract = abstract
			p.AbstractSource = source
		}
		if progress != nil {
			progress(done+1, len(pending), p.Title)
		}
	}
	return nil
}

// fetchSingle tries DOI lookup, then title search with year validation.
func (c *SemanticScholarClient) fetchSingle(ctx context.Context, doi, title string, year int) (string, datatypes.AbstractSource, error) {
	if safeDOI, err := validation.SanitizeDOI(doi); err == nil {
		abstract, err := c.lookupDOI(ctx, safeDOI)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", err
			}
		} else if abstract != "" {
			return abstract, datatypes.AbstractFromS2Single, nil
		}
	}

	if title == "" {
		return "", "", nil
	}
	abstract, err := c.searchTitle(ctx, title, year)
	if err != nil {
		return "", "", err
	}
	return abstract, datatypes.AbstractFromS2TitleSearch, nil
}

func (c *SemanticScholarClient) lookupDOI(ctx context.Context, doi string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/paper/DOI:" + url.PathEscape(doi) + "?fields=title,abstract,year"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build doi request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("doi request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("doi lookup returned %d", resp.StatusCode)
	}

	var body struct {
		Abstract string `json:"abstract"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode doi response: %w", err)
	}
	return body.Abstract, nil
}

func (c *SemanticScholarClient) searchTitle(ctx context.Context, title string, year int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("query", title)
	params.Set("limit", "1")
	params.Set("fields", "title,abstract,year")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/paper/search?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build title search: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("title search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("title search returned %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			Abstract string `json:"abstract"`
			Year     int    `json:"year"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode title search: %w", err)
	}
	if len(body.Data) == 0 {
		return "", nil
	}

	hit := body.Data[0]
	if year != 0 && hit.Year != 0 {
		diff := hit.Year - year
		if diff < 0 {
			diff = -diff
		}
		if diff > s2YearTolerance {
			return "", nil
		}
	}
	return hit.Abstract, nil
}
