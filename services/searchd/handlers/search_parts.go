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

	"github.com/AleutianAI/scholarstream/pkg/validation"
	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
	"github.com/AleutianAI/scholarstream/services/searchd/observability"
	"github.com/AleutianAI/scholarstream/services/searchd/search"
)

// PipelineHandler exposes the individual pipeline stages as discrete
// JSON endpoints.
//
// # Description
//
// These endpoints run single stages for debugging and for clients that
// compose the pipeline themselves. They do not consume quota; only the
// streaming search does. Identity is still resolved so requests are
// attributable.
type PipelineHandler struct {
	catalog  *search.Catalog
	rewriter *search.Rewriter
	crossref *search.CrossRefClient
	filter   *search.Filter
	metrics  *observability.SearchMetrics
	logger   *slog.Logger
}

// NewPipelineHandler wires the discrete stage endpoints.
func NewPipelineHandler(catalog *search.Catalog, rewriter *search.Rewriter, crossref *search.CrossRefClient, filter *search.Filter, metrics *observability.SearchMetrics, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		catalog:  catalog,
		rewriter: rewriter,
		crossref: crossref,
		filter:   filter,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleQueryRewrite handles POST /v1/query_rewrite.
func (h *PipelineHandler) HandleQueryRewrite(c *gin.Context) {
	var req datatypes.QueryRewriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	keywords := h.rewriter.Rewrite(c.Request.Context(), req.Query)
	h.metrics.RecordRequest("query_rewrite", "success")
	c.JSON(http.StatusOK, datatypes.QueryRewriteResponse{
		OriginalQuery: req.Query,
		Keywords:      keywords,
		Success:       true,
	})
}

// HandlePaperRetrieval handles POST /v1/paper_retrieval. The query is
// expected to already be keyword form.
func (h *PipelineHandler) HandlePaperRetrieval(c *gin.Context) {
	var req datatypes.PaperRetrievalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateVenueCodes(req.Venues); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	venues := h.catalog.Select(req.Venues)
	papers, err := h.crossref.SearchVenues(c.Request.Context(), req.Query, venues, req.StartYear, req.EndYear, req.RowsEach)
	if err != nil {
		h.logger.Error("paper retrieval failed", "error", err)
		h.metrics.RecordRequest("paper_retrieval", "error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "retrieval failed"})
		return
	}
	if papers == nil {
		papers = []datatypes.Paper{}
	}

	h.metrics.RecordRequest("paper_retrieval", "success")
	c.JSON(http.StatusOK, datatypes.PaperRetrievalResponse{
		Query:       req.Query,
		TotalPapers: len(papers),
		Papers:      papers,
		Success:     true,
	})
}

// HandlePaperFiltering handles POST /v1/paper_filtering.
func (h *PipelineHandler) HandlePaperFiltering(c *gin.Context) {
	var req datatypes.PaperFilteringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kept, err := h.filter.Apply(c.Request.Context(), req.UserQuery, req.Papers)
	if err != nil {
		h.logger.Error("paper filtering failed", "error", err)
		h.metrics.RecordRequest("paper_filtering", "error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "filtering failed"})
		return
	}
	if kept == nil {
		kept = []datatypes.Paper{}
	}

	h.metrics.RecordRequest("paper_filtering", "success")
	c.JSON(http.StatusOK, datatypes.PaperFilteringResponse{
		OriginalCount: len(req.Papers),
		FilteredCount: len(kept),
		Papers:        kept,
		Success:       true,
	})
}
