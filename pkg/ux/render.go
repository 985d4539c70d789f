// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders scholarstream CLI output: live pipeline stage
// lines, the final paper list, and quota notices. Styling degrades to
// plain text when stdout is not a terminal (NO_COLOR convention is
// honored by lipgloss itself).
package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	stageRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stageDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	stageErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	titleStyle        = lipgloss.NewStyle().Bold(true)
	venueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	urlStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Underline(true)
	quotaStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
)

// StageLine renders one pipeline stage transition for the terminal.
func StageLine(stage, status, message string) string {
	switch status {
	case "completed":
		return stageDoneStyle.Render(fmt.Sprintf("  ✓ %-8s %s", stage, message))
	case "error":
		return stageErrorStyle.Render(fmt.Sprintf("  ✗ %-8s %s", stage, message))
	default:
		return stageRunningStyle.Render(fmt.Sprintf("  … %-8s %s", stage, message))
	}
}

// PaperEntry is the display subset of one result paper.
type PaperEntry struct {
	Title   string
	Year    int
	Venue   string
	Authors []string
	URL     string
}

// PaperList renders the final result papers, numbered.
func PaperList(papers []PaperEntry) string {
	if len(papers) == 0 {
		return "No relevant papers found."
	}
	var b strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&b, "%d. %s\n", i+1, titleStyle.Render(p.Title))
		meta := p.Venue
		if p.Year != 0 {
			meta = fmt.Sprintf("%s, %d", p.Venue, p.Year)
		}
		if meta != "" {
			fmt.Fprintf(&b, "   %s\n", venueStyle.Render(meta))
		}
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, "   %s\n", strings.Join(p.Authors, ", "))
		}
		if p.URL != "" {
			fmt.Fprintf(&b, "   %s\n", urlStyle.Render(p.URL))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// QuotaNotice renders the remaining-searches footer.
func QuotaNotice(remaining uint) string {
	word := "searches"
	if remaining == 1 {
		word = "search"
	}
	return quotaStyle.Render(fmt.Sprintf("%d %s remaining", remaining, word))
}

// ErrorLine renders a terminal failure message.
func ErrorLine(code, message string) string {
	if code == "" {
		return stageErrorStyle.Render(message)
	}
	return stageErrorStyle.Render(fmt.Sprintf("%s: %s", code, message))
}
