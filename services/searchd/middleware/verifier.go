// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidToken is returned by TokenVerifier implementations when the
// token does not resolve to a user.
var ErrInvalidToken = errors.New("invalid token")

// =============================================================================
// HTTP Verifier
// =============================================================================

// HTTPVerifier validates bearer tokens against an external user-info
// endpoint.
//
// # Description
//
// Sends GET <baseURL>/auth/v1/user with the bearer token and expects a
// JSON body containing the user's stable ID. Any 4xx response maps to
// ErrInvalidToken; transport failures and 5xx responses surface as
// verification errors so the caller rejects rather than downgrading the
// request to anonymous.
type HTTPVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPVerifier creates a verifier for the given identity service.
//
// # Inputs
//
//   - baseURL: Identity service root, without trailing slash.
//   - apiKey: Service API key sent alongside the user's token.
func NewHTTPVerifier(baseURL, apiKey string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify implements TokenVerifier.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("build user-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("user-info request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", ErrInvalidToken
	default:
		return "", fmt.Errorf("user-info endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode user-info response: %w", err)
	}
	if body.ID == "" {
		return "", ErrInvalidToken
	}
	return body.ID, nil
}

// =============================================================================
// Static Verifier
// =============================================================================

// StaticVerifier maps fixed tokens to user IDs. Intended for local
// development and tests where no identity service is running.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier creates a verifier over a fixed token→user table.
// The map is used directly; callers must not mutate it afterwards.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

// Verify implements TokenVerifier.
func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if userID, ok := v.tokens[token]; ok {
		return userID, nil
	}
	return "", ErrInvalidToken
}
