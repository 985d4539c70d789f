// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the search daemon.
//
// This package resolves each request to a quota subject before any handler
// runs. It integrates the token verifier and the quota store's plan table.
//
// # Identity Resolution
//
// Every quota-gated request resolves to exactly one subject:
//
//	Request
//	   │
//	   ▼
//	IdentityMiddleware
//	   │
//	   ├─► Authorization: Bearer <token> present?
//	   │      yes ─► verifier.Verify(ctx, token) ─► plan lookup ─► free|pro
//	   │
//	   ├─► X-Anon-Id: <uuid> present?
//	   │      yes ─► format check ─► anon
//	   │
//	   └─► neither ─► 400 (identity required)
//	           │
//	           ▼
//	       Handler (retrieves via GetSubject)
//
// A bearer token always takes precedence: when both credentials appear on
// one request, the anonymous header is ignored entirely, including when
// token verification then fails. A failed verification is a 401, never a
// silent downgrade to anonymous.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/scholarstream/services/searchd/quota"
)

// =============================================================================
// Constants
// =============================================================================

// AnonIDHeader carries the client-generated anonymous identifier.
const AnonIDHeader = "X-Anon-Id"

// subjectKey is the context key for the resolved quota subject.
// Using a namespaced key prevents collisions with other context values.
const subjectKey = "scholarstream_subject"

// =============================================================================
// Token Verification
// =============================================================================

// TokenVerifier validates a bearer token and returns the stable user ID it
// belongs to. Implementations must be safe for concurrent use.
type TokenVerifier interface {
	// Verify returns the user ID for a valid token, or ErrInvalidToken.
	Verify(ctx context.Context, token string) (string, error)
}

// PlanSource resolves a registered user's plan. The quota store satisfies
// it; tests substitute fakes.
type PlanSource interface {
	Plan(ctx context.Context, userID string) (string, error)
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetSubject stores the resolved quota subject in the Gin context.
//
// Called by IdentityMiddleware after resolution; exposed so handler tests
// can inject a subject without running the middleware.
func SetSubject(c *gin.Context, subject quota.Subject) {
	c.Set(subjectKey, subject)
}

// GetSubject retrieves the resolved quota subject from the Gin context.
//
// # Outputs
//
//   - quota.Subject: The resolved subject.
//   - bool: False if IdentityMiddleware did not run or resolution failed.
func GetSubject(c *gin.Context) (quota.Subject, bool) {
	if v, exists := c.Get(subjectKey); exists {
		if subject, ok := v.(quota.Subject); ok {
			return subject, true
		}
	}
	return quota.Subject{}, false
}

// =============================================================================
// Identity Middleware
// =============================================================================

// IdentityMiddleware creates a Gin middleware that resolves the request's
// quota subject.
//
// # Description
//
// Applies the precedence rule documented in the package comment. On
// success the subject is stored in the context for downstream handlers;
// on failure the request is aborted with a plain JSON error before any
// handler runs.
//
// # Inputs
//
//   - verifier: Validates bearer tokens. Must not be nil.
//   - plans: Maps verified user IDs to their plan. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin.
//
// # Limitations
//
//   - Only supports Bearer token authentication.
//   - Plan lookups are not cached; every request hits the store.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func IdentityMiddleware(verifier TokenVerifier, plans PlanSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token != "" {
			subject, status, msg := resolveRegistered(c.Request.Context(), verifier, plans, token)
			if status != 0 {
				c.AbortWithStatusJSON(status, gin.H{"error": msg})
				return
			}
			SetSubject(c, subject)
			c.Next()
			return
		}

		anonID := strings.TrimSpace(c.GetHeader(AnonIDHeader))
		if anonID != "" {
			if _, err := uuid.Parse(anonID); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "invalid anonymous id",
				})
				return
			}
			SetSubject(c, quota.Subject{Kind: quota.SubjectAnon, ID: anonID})
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "identity required: provide a bearer token or " + AnonIDHeader,
		})
	}
}

// resolveRegistered verifies the token and maps the user to a free or pro
// subject. Returns a non-zero status on failure.
func resolveRegistered(ctx context.Context, verifier TokenVerifier, plans PlanSource, token string) (quota.Subject, int, string) {
	userID, err := verifier.Verify(ctx, token)
	if err != nil {
		return quota.Subject{}, http.StatusUnauthorized, "invalid or expired token"
	}

	plan, err := plans.Plan(ctx, userID)
	if err != nil {
		return quota.Subject{}, http.StatusInternalServerError, "plan lookup failed"
	}

	kind := quota.SubjectFree
	if plan == "pro" {
		kind = quota.SubjectPro
	}
	return quota.Subject{Kind: kind, ID: userID}, 0, ""
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
