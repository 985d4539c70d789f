// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the paper search pipeline: query rewrite,
// CrossRef retrieval, Semantic Scholar abstract enrichment, and LLM
// relevance filtering.
package search

import (
	"strings"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

// =============================================================================
// Venue Catalog
// =============================================================================

// Venue is one searchable publication venue.
type Venue struct {
	// Code is the short identifier clients select venues by (e.g. "NeurIPS").
	Code string
	// Name is the title CrossRef matches against.
	Name string
	// Type selects the CrossRef query shape (journal vs proceedings).
	Type datatypes.VenueType
}

// defaultCatalog is the in-binary venue table. Conference proceedings
// titles on CrossRef are noisy, so each conference also carries name
// filters (see conferenceNameFilters) applied to returned records.
var defaultCatalog = []Venue{
	{Code: "JMLR", Name: "Journal of Machine Learning Research", Type: datatypes.VenueJournal},
	{Code: "TPAMI", Name: "IEEE Transactions on Pattern Analysis and Machine Intelligence", Type: datatypes.VenueJournal},
	{Code: "JASA", Name: "Journal of the American Statistical Association", Type: datatypes.VenueJournal},
	{Code: "Biometrika", Name: "Biometrika", Type: datatypes.VenueJournal},
	{Code: "AOS", Name: "Annals of Statistics", Type: datatypes.VenueJournal},
	{Code: "NeurIPS", Name: "Advances in Neural Information Processing Systems", Type: datatypes.VenueConference},
	{Code: "ICML", Name: "International Conference on Machine Learning", Type: datatypes.VenueConference},
	{Code: "ICLR", Name: "International Conference on Learning Representations", Type: datatypes.VenueConference},
	{Code: "AAAI", Name: "AAAI Conference on Artificial Intelligence", Type: datatypes.VenueConference},
	{Code: "KDD", Name: "ACM SIGKDD Conference on Knowledge Discovery and Data Mining", Type: datatypes.VenueConference},
}

// conferenceNameFilters maps a conference code to lowercase substrings,
// at least one of which must appear in a record's container-title for
// the record to count as that conference. A code with no entry is not
// filtered.
var conferenceNameFilters = map[string][]string{
	"NeurIPS": {"neural information processing"},
	"ICML":    {"international conference on machine learning", "icml"},
	"ICLR":    {"learning representations"},
	"AAAI":    {"aaai"},
	"KDD":     {"knowledge discovery"},
}

// Catalog holds the venues a server instance searches.
type Catalog struct {
	venues []Venue
	byCode map[string]Venue
}

// NewCatalog builds a catalog from the given venues, or the in-binary
// default table when venues is empty.
func NewCatalog(venues []Venue) *Catalog {
	if len(venues) == 0 {
		venues = defaultCatalog
	}
	byCode := make(map[string]Venue, len(venues))
	for _, v := range venues {
		byCode[strings.ToLower(v.Code)] = v
	}
	return &Catalog{venues: venues, byCode: byCode}
}

// All returns every venue in catalog order.
func (c *Catalog) All() []Venue {
	return c.venues
}

// Select resolves requested venue codes, case-insensitively. Unknown
// codes are skipped rather than erroring so a stale client venue list
// degrades instead of failing the whole search. An empty request selects
// the full catalog.
func (c *Catalog) Select(codes []string) []Venue {
	if len(codes) == 0 {
		return c.venues
	}
	selected := make([]Venue, 0, len(codes))
	for _, code := range codes {
		if v, ok := c.byCode[strings.ToLower(strings.TrimSpace(code))]; ok {
			selected = append(selected, v)
		}
	}
	return selected
}

// matchConference reports whether a CrossRef container title passes the
// conference's name filters.
func matchConference(code, containerTitle string) bool {
	if containerTitle == "" {
		return false
	}
	patterns, ok := conferenceNameFilters[code]
	if !ok {
		return true
	}
	title := strings.ToLower(containerTitle)
	for _, pat := range patterns {
		if strings.Contains(title, pat) {
			return true
		}
	}
	return false
}
