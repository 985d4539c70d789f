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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

// defaultFilterWorkers bounds concurrent relevance judgments.
const defaultFilterWorkers = 5

const filterSystemPrompt = "You are an academic paper screening assistant. " +
	"You judge whether a paper is relevant to a user's query. Answer only " +
	"\"yes\" or \"no\"."

const filterPromptTemplate = `Judge whether the following paper is relevant to the user's query.

User query: %s

Paper title: %s

Paper abstract:
%s

Answer only "yes" or "no".`

// =============================================================================
// Relevance Filter
// =============================================================================

// Filter screens retrieved papers for relevance to the original query.
//
// # Description
//
// One LLM call per paper, fanned out over a bounded worker pool. The
// decision policy is deliberately asymmetric:
//
//   - No abstract: the paper is dropped. There is nothing to judge, and
//     an unjudgeable paper is noise in the result.
//   - LLM call fails or returns nothing: the paper is kept. A flaky
//     upstream must not silently shrink the result set.
//
// The input order is preserved in the output.
type Filter struct {
	client  ChatCompleter
	model   string
	workers int
	logger  *slog.Logger
}

// NewFilter creates a Filter. A nil client keeps every paper that has an
// abstract.
func NewFilter(client ChatCompleter, model string, logger *slog.Logger) *Filter {
	return &Filter{
		client:  client,
		model:   model,
		workers: defaultFilterWorkers,
		logger:  logger,
	}
}

// Apply returns the relevant subset of papers, in input order.
//
// # Outputs
//
//   - []datatypes.Paper: Papers judged relevant (or kept fail-open).
//   - error: Non-nil only on context cancellation.
func (f *Filter) Apply(ctx context.Context, query string, papers []datatypes.Paper) ([]datatypes.Paper, error) {
	if len(papers) == 0 {
		return nil, nil
	}

	keep := make([]bool, len(papers))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.workers)

	for i := range papers {
		i := i
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			relevant := f.isRelevant(groupCtx, query, papers[i])
			mu.Lock()
			keep[i] = relevant
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var relevant []datatypes.Paper
	for i := range papers {
		if keep[i] {
			relevant = append(relevant, papers[i])
		}
	}
	return relevant, nil
}

// isRelevant judges one paper. See the type comment for the keep/drop
// policy.
func (f *Filter) isRelevant(ctx context.Context, query string, paper datatypes.Paper) bool {
	if !paper.HasAbstract() {
		return false
	}
	if f.client == nil {
		return true
	}

	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: f.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: filterSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(filterPromptTemplate, query, paper.Title, paper.Abstract)},
		},
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		f.logger.Warn("relevance judgment failed, keeping paper",
			"title", paper.Title, "error", err)
		return true
	}
	if len(resp.Choices) == 0 {
		return true
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	if answer == "" {
		return true
	}
	return strings.Contains(answer, "yes") || strings.HasPrefix(answer, "y")
}
