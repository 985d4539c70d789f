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
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// Chat Client
// =============================================================================

// ChatCompleter is the one OpenAI capability the pipeline uses.
// *openai.Client satisfies it; tests substitute fakes.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewChatClient builds an OpenAI-compatible client. baseURL may point at
// any compatible endpoint; empty keeps the default.
func NewChatClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
}

// =============================================================================
// Query Rewriter
// =============================================================================

const rewriteSystemPrompt = "You are an academic search assistant. You extract " +
	"the core keywords from a user's query and express them as standard " +
	"English academic terms. Always respond in JSON."

const rewritePromptTemplate = `Analyze the following user query and extract the most relevant keywords as precise English academic terms.

User query: %s

Requirements:
1. Extract at most 3 core keywords.
2. Use established English academic terminology, translating if the query is in another language.
3. Prefer the terms that best capture the query's intent.
4. Output JSON with a single "keywords" field holding the keywords joined by ", " (for example: {"keywords": "causal inference, positivity, treatment effect"}).`

// keywordsJSONPattern extracts an embedded keywords object when the model
// wraps its JSON in prose or a code fence.
var keywordsJSONPattern = regexp.MustCompile(`\{[^{}]*"keywords"[^{}]*\}`)

// Rewriter turns free-form queries into compact keyword strings.
//
// # Description
//
// Rewrite never fails the search: any LLM error, empty response, or
// unparseable payload falls back to the raw query. The three recovery
// tiers mirror how models actually misbehave: clean JSON, JSON embedded
// in prose, then the bare response text.
type Rewriter struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

// NewRewriter creates a Rewriter. A nil client disables rewriting; every
// call returns the raw query.
func NewRewriter(client ChatCompleter, model string, logger *slog.Logger) *Rewriter {
	return &Rewriter{client: client, model: model, logger: logger}
}

// Rewrite extracts keywords from the query.
//
// # Outputs
//
//   - string: Comma-separated keywords, or the raw query on any failure.
//     Never empty when query is non-empty.
func (r *Rewriter) Rewrite(ctx context.Context, query string) string {
	if r.client == nil {
		return query
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rewriteSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(rewritePromptTemplate, query)},
		},
		Temperature: 0.3,
		MaxTokens:   150,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		r.logger.Warn("query rewrite failed, using raw query", "error", err)
		return query
	}
	if len(resp.Choices) == 0 {
		return query
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return query
	}

	if keywords := parseKeywords(text); keywords != "" {
		r.logger.Debug("query rewritten", "query", query, "keywords", keywords)
		return keywords
	}

	// Last tier: treat the raw response as the keyword string.
	if stripped := strings.Trim(text, `"'. `); stripped != "" {
		return stripped
	}
	return query
}

// parseKeywords pulls the keywords field from a JSON response, tolerating
// a JSON object embedded in surrounding text.
func parseKeywords(text string) string {
	var payload struct {
		Keywords string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return strings.TrimSpace(payload.Keywords)
	}
	if match := keywordsJSONPattern.FindString(text); match != "" {
		if err := json.Unmarshal([]byte(match), &payload); err == nil {
			return strings.TrimSpace(payload.Keywords)
		}
	}
	return ""
}
