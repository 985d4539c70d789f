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
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

// =============================================================================
// Constants
// =============================================================================

const (
	crossRefWorksURL = "https://api.crossref.org/works"

	// crossRefUserAgent identifies us to the polite pool per CrossRef's
	// etiquette guidelines.
	crossRefUserAgent = "scholarstream/1.0 (mailto:oss@aleutian.ai)"

	// defaultCrossRefWorkers bounds the venue fan-out.
	defaultCrossRefWorkers = 6
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// cleanHTML strips markup from CrossRef abstracts (they arrive as JATS
// XML fragments) and collapses whitespace.
func cleanHTML(raw string) string {
	if raw == "" {
		return ""
	}
	text := htmlTagPattern.ReplaceAllString(raw, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// =============================================================================
// CrossRef Client
// =============================================================================

// CrossRefClient retrieves works from the CrossRef REST API.
//
// # Description
//
// One search fans out across the selected venues with bounded
// concurrency. Journal venues filter server-side on container-title;
// conference venues match the proceedings title via query.container-title
// and over-fetch 3x, then filter locally by conference name patterns
// because CrossRef's proceedings matching is loose.
//
// # Limitations
//
//   - A failing venue yields zero papers for that venue, not a search
//     failure. Callers see the degraded result without an error.
type CrossRefClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	workers int
	logger  *slog.Logger
}

// NewCrossRefClient creates a client against the public CrossRef API.
func NewCrossRefClient(logger *slog.Logger) *CrossRefClient {
	return &CrossRefClient{
		baseURL: crossRefWorksURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		// Polite-pool etiquette: stay well under CrossRef's burst limits.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		workers: defaultCrossRefWorkers,
		logger:  logger,
	}
}

// WithBaseURL points the client at a different endpoint. Used by tests.
func (c *CrossRefClient) WithBaseURL(baseURL string) *CrossRefClient {
	c.baseURL = baseURL
	return c
}

// crossRefResponse mirrors the subset of the works payload we read.
type crossRefResponse struct {
	Message struct {
		Items []crossRefItem `json:"items"`
	} `json:"message"`
}

type crossRefItem struct {
	Title          []string `json:"title"`
	DOI            string   `json:"DOI"`
	URL            string   `json:"URL"`
	ContainerTitle []string `json:"container-title"`
	Abstract       string   `json:"abstract"`
	Issued         struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
}

// SearchVenues fans a keyword query out across the venues and returns
// the concatenated results in venue order.
//
// # Inputs
//
//   - ctx: Cancels all in-flight venue queries.
//   - keyword: Search keywords (comma-separated terms are fine).
//   - venues: Resolved venue list; empty yields an empty result.
//   - startYear, endYear: Inclusive publication year window.
//   - rowsEach: Papers to keep per venue.
//
// # Outputs
//
//   - []datatypes.Paper: Papers ordered by position in venues. Venues
//     that failed contribute nothing.
//   - error: Non-nil only when ctx is done; per-venue failures are
//     logged and absorbed.
func (c *CrossRefClient) SearchVenues(ctx context.Context, keyword string, venues []Venue, startYear, endYear, rowsEach int) ([]datatypes.Paper, error) {
	perVenue := make([][]datatypes.Paper, len(venues))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.workers)

	for i, venue := range venues {
		i, venue := i, venue
		group.Go(func() error {
			papers, err := c.searchOneVenue(groupCtx, keyword, venue, startYear, endYear, rowsEach)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				c.logger.Warn("crossref venue search failed",
					"venue", venue.Code, "error", err)
				return nil
			}
			mu.Lock()
			perVenue[i] = papers
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []datatypes.Paper
	for _, papers := range perVenue {
		all = append(all, papers...)
	}
	return all, nil
}

// searchOneVenue issues a single works query for one venue.
func (c *CrossRefClient) searchOneVenue(ctx context.Context, keyword string, venue Venue, startYear, endYear, rowsEach int) ([]datatypes.Paper, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	filters := []string{
		fmt.Sprintf("from-pub-date:%d", startYear),
		fmt.Sprintf("until-pub-date:%d", endYear),
	}

	params := url.Values{}
	params.Set("query", keyword)
	switch venue.Type {
	case datatypes.VenueJournal:
		filters = append(filters, "type:journal-article")
		filters = append(filters, "container-title:"+venue.Name)
		params.Set("rows", strconv.Itoa(rowsEach))
	case datatypes.VenueConference:
		filters = append(filters, "type:proceedings-article")
		params.Set("query.container-title", venue.Name)
		// Over-fetch; the local name filter discards mismatches.
		params.Set("rows", strconv.Itoa(rowsEach*3))
	default:
		return nil, fmt.Errorf("unknown venue type %q", venue.Type)
	}
	params.Set("filter", strings.Join(filters, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build crossref request: %w", err)
	}
	req.Header.Set("User-Agent", crossRefUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crossref request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crossref returned %d", resp.StatusCode)
	}

	var body crossRefResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode crossref response: %w", err)
	}

	papers := make([]datatypes.Paper, 0, rowsEach)
	for _, item := range body.Message.Items {
		paper, ok := c.itemToPaper(item, venue)
		if !ok {
			continue
		}
		papers = append(papers, paper)
		if len(papers) >= rowsEach {
			break
		}
	}
	return papers, nil
}

// itemToPaper converts one works item, applying the conference name
// filter. Returns false when the item should be discarded.
func (c *CrossRefClient) itemToPaper(item crossRefItem, venue Venue) (datatypes.Paper, bool) {
	title := "<no title>"
	if len(item.Title) > 0 && item.Title[0] != "" {
		title = item.Title[0]
	}

	container := ""
	if len(item.ContainerTitle) > 0 {
		container = item.ContainerTitle[0]
	}
	if venue.Type == datatypes.VenueConference && !matchConference(venue.Code, container) {
		return datatypes.Paper{}, false
	}

	year := 0
	if len(item.Issued.DateParts) > 0 && len(item.Issued.DateParts[0]) > 0 {
		year = item.Issued.DateParts[0][0]
	}

	var authors []string
	for _, a := range item.Author {
		full := strings.TrimSpace(a.Given + " " + a.Family)
		if full != "" {
			authors = append(authors, full)
		}
	}

	link := item.URL
	if link == "" && item.DOI != "" {
		link = "https://doi.org/" + item.DOI
	}

	paper := datatypes.Paper{
		VenueCode:            venue.Code,
		VenueType:            venue.Type,
		Title:                title,
		Year:                 year,
		JournalOrProceedings: container,
		DOI:                  item.DOI,
		URL:                  link,
		Authors:              authors,
	}
	if abstract := cleanHTML(item.Abstract); abstract != "" {
		paper.Abstract = abstract
		paper.AbstractSource = datatypes.AbstractFromCrossRef
	}
	return paper, true
}
