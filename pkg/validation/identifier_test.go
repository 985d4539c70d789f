// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"
)

func TestValidateVenueCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"journal", "JMLR", false},
		{"mixed case", "NeurIPS", false},
		{"with digits", "AAAI25", false},
		{"hyphenated", "ACM-CHI", false},
		{"empty", "", true},
		{"too long", "ABCDEFGHIJKLMNOPQ", true},
		{"path traversal", "../etc", true},
		{"whitespace", "JM LR", true},
		{"query injection", "JMLR&rows=999", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVenueCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVenueCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestValidateVenueCodes(t *testing.T) {
	if err := ValidateVenueCodes([]string{"JMLR", "ICML"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateVenueCodes([]string{"JMLR", "../etc"}); err == nil {
		t.Error("expected error for invalid code in list")
	}
}

func TestValidateDOI(t *testing.T) {
	tests := []struct {
		name    string
		doi     string
		wantErr bool
	}{
		{"plain", "10.1145/3292500", false},
		{"nested suffix", "10.1007/978-3-030-58452-8_13", false},
		{"empty", "", true},
		{"no prefix", "1145/3292500", true},
		{"whitespace in suffix", "10.1145/329 2500", true},
		{"missing suffix", "10.1145/", true},
		{"not a doi", "https://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDOI(tt.doi)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDOI(%q) error = %v, wantErr %v", tt.doi, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeDOI(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"10.1145/3292500", "10.1145/3292500", false},
		{"  10.1145/3292500  ", "10.1145/3292500", false},
		{"https://doi.org/10.1145/3292500", "10.1145/3292500", false},
		{"doi:10.1145/AbCdEf", "10.1145/abcdef", false},
		{"garbage", "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeDOI(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SanitizeDOI(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeDOI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
