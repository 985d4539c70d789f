// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/scholarstream/pkg/streamview"
	"github.com/AleutianAI/scholarstream/pkg/ux"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a streaming paper search",
	Long: `Search sends one query through the full pipeline and renders stage
progress as it happens. The result is the filtered paper list.

Each search consumes one unit of quota (pro accounts are uncounted).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		venues, _ := cmd.Flags().GetStringSlice("venues")
		startYear, _ := cmd.Flags().GetInt("start-year")
		endYear, _ := cmd.Flags().GetInt("end-year")
		rowsEach, _ := cmd.Flags().GetInt("rows-each")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runSearch(cmd, query, venues, startYear, endYear, rowsEach, asJSON)
	},
}

func init() {
	searchCmd.Flags().StringSlice("venues", nil, "venue codes to search (default: all)")
	searchCmd.Flags().Int("start-year", 0, "earliest publication year")
	searchCmd.Flags().Int("end-year", 0, "latest publication year")
	searchCmd.Flags().Int("rows-each", 0, "papers requested per venue")
	searchCmd.Flags().Bool("json", false, "output the result as JSON")

	rootCmd.AddCommand(searchCmd)
}

// stderrSink renders live pipeline progress for the terminal.
type stderrSink struct {
	streamview.NopSink
}

func (stderrSink) StageChanged(_ string, update streamview.ProgressUpdate) {
	fmt.Fprintln(os.Stderr, ux.StageLine(update.Stage, update.Status, update.Message))
}

func runSearch(cmd *cobra.Command, query string, venues []string, startYear, endYear, rowsEach int, asJSON bool) error {
	body := map[string]any{"query": query}
	if len(venues) > 0 {
		body["venues"] = venues
	}
	if startYear != 0 {
		body["start_year"] = startYear
	}
	if endYear != 0 {
		body["end_year"] = endYear
	}
	if rowsEach != 0 {
		body["rows_each"] = rowsEach
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	consumer := streamview.NewConsumer(stderrSink{}, nil)
	consumer.SetActive(cliConversation)
	req := consumer.StartSearch(cmd.Context(), cliConversation, query)
	defer req.Cancel()

	httpReq, err := http.NewRequestWithContext(req.Context(), http.MethodPost,
		serverURL("/v1/paper_search"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if err := identify(httpReq); err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// stream follows
	case http.StatusPaymentRequired:
		return quotaExhaustedMessage(resp.Body)
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server replied %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	fmt.Fprintf(os.Stderr, "Searching: %s\n", query)
	outcome, err := consumer.Consume(req, resp.Body)
	if err != nil && outcome != streamview.OutcomeResult {
		return err
	}

	conv, _ := consumer.Conversation(cliConversation)
	switch outcome {
	case streamview.OutcomeCancelled:
		return nil
	case streamview.OutcomeError:
		if conv.LastError != nil {
			return fmt.Errorf("%s: %s", conv.LastError.Code, conv.LastError.Message)
		}
		return fmt.Errorf("search failed")
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: result payload was garbled; paper list may be incomplete")
	}

	if store, cacheErr := openConversationCache(); cacheErr == nil {
		if cacheErr = cacheConversation(store, conv); cacheErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not cache result: %v\n", cacheErr)
		}
		_ = store.Close()
	}

	return printResult(conv, asJSON)
}

func quotaExhaustedMessage(body io.Reader) error {
	var denied struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&denied); err == nil && denied.Code != "" {
		return fmt.Errorf("%s — sign in or upgrade for more searches", denied.Message)
	}
	return fmt.Errorf("search quota exhausted — sign in or upgrade for more searches")
}

func printResult(conv streamview.Conversation, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(conv.Papers)
	}

	entries := make([]ux.PaperEntry, len(conv.Papers))
	for i, paper := range conv.Papers {
		entries[i] = ux.PaperEntry{
			Title:   paper.Title,
			Year:    paper.Year,
			Venue:   paper.JournalOrProceedings,
			Authors: paper.Authors,
			URL:     paper.URL,
		}
	}
	fmt.Println(ux.PaperList(entries))
	if conv.QuotaHint != nil {
		fmt.Fprintln(os.Stderr, ux.QuotaNotice(*conv.QuotaHint))
	}
	return nil
}
