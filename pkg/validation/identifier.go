// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end up
// in upstream URLs (CrossRef, Semantic Scholar) or database keys. Using these
// validators prevents path traversal and query injection through venue codes
// and DOIs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// venueCodePattern matches venue catalog codes.
// Allows: letters, digits, hyphens (e.g. JMLR, TPAMI, NeurIPS).
// Max length: 16 characters.
var venueCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-]{0,15}$`)

// doiPattern matches the DOI syntax used by CrossRef: a "10." prefix,
// a registrant code, a slash, and a suffix of printable non-space
// characters. Control characters and whitespace are rejected so a DOI
// can be embedded in a URL path.
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// ValidateVenueCode validates a venue catalog code from user input.
//
// Valid codes:
//   - 1-16 characters
//   - Letters, digits, hyphens
//
// Returns an error if the code is invalid.
//
// Example:
//
//	if err := validation.ValidateVenueCode(code); err != nil {
//	    return nil, fmt.Errorf("invalid venue: %w", err)
//	}
func ValidateVenueCode(code string) error {
	if code == "" {
		return fmt.Errorf("venue code cannot be empty")
	}
	if !venueCodePattern.MatchString(code) {
		return fmt.Errorf("invalid venue code: %q (must be 1-16 alphanumeric chars or hyphens)", code)
	}
	return nil
}

// ValidateVenueCodes validates multiple venue codes.
// Returns an error listing all invalid codes if any fail validation.
func ValidateVenueCodes(codes []string) error {
	var invalid []string
	for _, code := range codes {
		if err := ValidateVenueCode(code); err != nil {
			invalid = append(invalid, code)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid venue codes: %v", invalid)
	}
	return nil
}

// ValidateDOI checks that a DOI is safe to embed in an upstream URL
// path. It accepts the "10.XXXX/suffix" form and rejects anything with
// whitespace or a missing registrant.
func ValidateDOI(doi string) error {
	if doi == "" {
		return fmt.Errorf("doi cannot be empty")
	}
	if len(doi) > 256 {
		return fmt.Errorf("doi too long: %d chars", len(doi))
	}
	if !doiPattern.MatchString(doi) {
		return fmt.Errorf("invalid doi format: %q", doi)
	}
	return nil
}

// SanitizeDOI normalizes and validates a DOI: trims whitespace, strips
// a doi.org URL prefix, lowercases, and validates. Returns the
// normalized DOI or an error.
//
// Use this before keying caches or calling upstream lookups:
//
//	safeDOI, err := validation.SanitizeDOI(raw)
//	if err != nil {
//	    continue
//	}
func SanitizeDOI(doi string) (string, error) {
	normalized := strings.TrimSpace(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "doi.org/", "doi:"} {
		if strings.HasPrefix(strings.ToLower(normalized), prefix) {
			normalized = normalized[len(prefix):]
			break
		}
	}
	normalized = strings.ToLower(normalized)
	if err := ValidateDOI(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
