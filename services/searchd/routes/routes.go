// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/scholarstream/services/searchd/handlers"
	"github.com/AleutianAI/scholarstream/services/searchd/middleware"
	"github.com/AleutianAI/scholarstream/services/searchd/quota"
)

// Deps bundles everything the route table needs. All handlers are
// constructed by the caller so tests can substitute pieces.
type Deps struct {
	Store    *quota.Store
	Verifier middleware.TokenVerifier
	Search   *handlers.SearchHandler
	Quota    *handlers.QuotaHandler
	Pipeline *handlers.PipelineHandler
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Every /v1 route requires a resolved subject: a verified bearer
	// token or a well-formed anonymous id.
	v1 := router.Group("/v1")
	v1.Use(middleware.IdentityMiddleware(deps.Verifier, deps.Store))
	{
		v1.POST("/paper_search", deps.Search.HandleSearchStream)
		v1.GET("/quota", deps.Quota.HandleQuotaInfo)
		v1.POST("/ensure_profile", deps.Quota.HandleEnsureProfile)

		// Discrete pipeline stages. These do not consume quota; only the
		// full streaming search does.
		v1.POST("/query_rewrite", deps.Pipeline.HandleQueryRewrite)
		v1.POST("/paper_retrieval", deps.Pipeline.HandlePaperRetrieval)
		v1.POST("/paper_filtering", deps.Pipeline.HandlePaperFiltering)
	}
}
