// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the searchd service.
//
// This file contains the paper metadata model shared by the retrieval,
// enrichment, and filtering stages. Request/response types live in
// search.go; stream event types live in events.go.
package datatypes

// VenueType distinguishes journal venues from conference venues.
type VenueType string

const (
	VenueJournal    VenueType = "JOURNAL"
	VenueConference VenueType = "CONFERENCE"
)

// AbstractSource identifies which upstream supplied a paper's abstract.
//
// Abstracts come from CrossRef inline, from the Semantic Scholar batch DOI
// endpoint, or from a Semantic Scholar single-paper lookup (by DOI or by
// title match when no DOI is known).
type AbstractSource string

const (
	AbstractFromCrossRef      AbstractSource = "crossref"
	AbstractFromS2Batch       AbstractSource = "semanticscholar-batch"
	AbstractFromS2Single      AbstractSource = "semanticscholar-single"
	AbstractFromS2TitleSearch AbstractSource = "semanticscholar-title"
)

// Paper holds the metadata for one retrieved paper.
//
// # Fields
//
//   - VenueCode: Short code of the venue the paper was found under (e.g. "tmlr")
//   - VenueType: JOURNAL or CONFERENCE
//   - Title: Paper title as reported by CrossRef
//   - Year: Publication year; zero when unknown
//   - JournalOrProceedings: Full venue/proceedings name
//   - DOI: DOI when known (lowercased), empty otherwise
//   - URL: Landing page URL when known
//   - Authors: Author names in source order
//   - Abstract: Abstract text; may be empty if no source had one
//   - AbstractSource: Which upstream supplied the abstract
//
// # Assumptions
//
//   - Papers are value types; stages copy slices rather than sharing them
type Paper struct {
	VenueCode            string         `json:"venue_code"`
	VenueType            VenueType      `json:"venue_type"`
	Title                string         `json:"title"`
	Year                 int            `json:"year,omitempty"`
	JournalOrProceedings string         `json:"journal_or_proceedings"`
	DOI                  string         `json:"doi,omitempty"`
	URL                  string         `json:"url,omitempty"`
	Authors              []string       `json:"authors"`
	Abstract             string         `json:"abstract,omitempty"`
	AbstractSource       AbstractSource `json:"abstract_source,omitempty"`
}

// HasAbstract reports whether the paper already carries an abstract.
func (p *Paper) HasAbstract() bool {
	return p.Abstract != ""
}
