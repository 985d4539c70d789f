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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/scholarstream/pkg/streamview"
	"github.com/AleutianAI/scholarstream/pkg/ux"
)

// cliConversation is the single conversation ID this CLI uses. The cache
// keeps the last completed search under it.
const cliConversation = "cli"

// openConversationCache opens the on-disk conversation cache. Everything
// in it is a convenience copy of past server responses, never a source of
// truth; losing it costs nothing but the `history` display.
func openConversationCache() (*streamview.ConversationStore, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return streamview.OpenStore(streamview.StoreConfig{
		Path: filepath.Join(dir, "conversations"),
	})
}

// cacheConversation persists a completed conversation for later recall.
func cacheConversation(store *streamview.ConversationStore, conv streamview.Conversation) error {
	return store.Save(conv)
}

// lastConversation loads the most recent cached search.
func lastConversation(store *streamview.ConversationStore) (streamview.Conversation, error) {
	return store.Load(cliConversation)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the last search result",
	Long: `History re-renders the most recent search from the local cache without
consuming quota. The remaining-searches figure is re-read from the server;
the cached copy is only shown when the server is unreachable.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openConversationCache()
		if err != nil {
			return err
		}
		defer store.Close()

		conv, err := lastConversation(store)
		if errors.Is(err, streamview.ErrConversationNotFound) {
			fmt.Println("No past searches.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Last search: %s\n", conv.Query)
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

		// The server is authoritative for quota; the cached hint is
		// reconciled on read and only used as a fallback.
		var info struct {
			Remaining uint `json:"remaining"`
		}
		if err := getJSON(cmd.Context(), "/v1/quota", &info); err == nil {
			fmt.Fprintln(os.Stderr, ux.QuotaNotice(info.Remaining))
		} else if conv.QuotaHint != nil {
			fmt.Fprintln(os.Stderr, ux.QuotaNotice(*conv.QuotaHint))
			fmt.Fprintln(os.Stderr, "(cached figure; server unreachable)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
