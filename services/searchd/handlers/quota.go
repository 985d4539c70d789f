// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
	"github.com/AleutianAI/scholarstream/services/searchd/middleware"
	"github.com/AleutianAI/scholarstream/services/searchd/observability"
	"github.com/AleutianAI/scholarstream/services/searchd/quota"
)

// QuotaHandler serves the read-only quota endpoint and profile
// provisioning.
type QuotaHandler struct {
	store   *quota.Store
	metrics *observability.SearchMetrics
	logger  *slog.Logger
}

// NewQuotaHandler wires the quota endpoints.
func NewQuotaHandler(store *quota.Store, metrics *observability.SearchMetrics, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{store: store, metrics: metrics, logger: logger}
}

// HandleQuotaInfo handles GET /v1/quota.
//
// # Description
//
// Reports the resolved subject's plan, limit, used count, and remaining
// without consuming quota. This is the authoritative quota display
// source for clients; local client caches must defer to it.
func (h *QuotaHandler) HandleQuotaInfo(c *gin.Context) {
	subject, ok := middleware.GetSubject(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subject not resolved"})
		return
	}

	usage, err := h.store.QuotaInfo(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("quota info lookup failed", "subject", subject.String(), "error", err)
		h.metrics.RecordRequest("quota", "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota lookup failed"})
		return
	}

	h.metrics.RecordRequest("quota", "success")
	c.JSON(http.StatusOK, datatypes.QuotaInfoResponse{
		UserType:  string(subject.Kind),
		Plan:      usage.Plan,
		Remaining: usage.Remaining,
		Limit:     usage.Limit,
		UsedCount: usage.UsedCount,
	})
}

// HandleEnsureProfile handles POST /v1/ensure_profile.
//
// # Description
//
// Lazily creates the free-plan profile row for a registered subject.
// Anonymous subjects have no profile; they get a 400. The call is
// idempotent: an existing profile reports created=false.
func (h *QuotaHandler) HandleEnsureProfile(c *gin.Context) {
	subject, ok := middleware.GetSubject(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subject not resolved"})
		return
	}
	if subject.Kind == quota.SubjectAnon {
		c.JSON(http.StatusBadRequest, gin.H{"error": "anonymous subjects have no profile"})
		return
	}

	created, err := h.store.EnsureProfile(c.Request.Context(), subject.ID)
	if err != nil {
		h.logger.Error("ensure profile failed", "subject", subject.String(), "error", err)
		h.metrics.RecordRequest("ensure_profile", "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile provisioning failed"})
		return
	}

	h.metrics.RecordRequest("ensure_profile", "success")
	c.JSON(http.StatusOK, datatypes.EnsureProfileResponse{
		UserID:  subject.ID,
		Created: created,
		Success: true,
	})
}
