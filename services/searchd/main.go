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
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/scholarstream/pkg/logging"
	"github.com/AleutianAI/scholarstream/services/searchd/handlers"
	"github.com/AleutianAI/scholarstream/services/searchd/middleware"
	"github.com/AleutianAI/scholarstream/services/searchd/observability"
	"github.com/AleutianAI/scholarstream/services/searchd/quota"
	"github.com/AleutianAI/scholarstream/services/searchd/routes"
	"github.com/AleutianAI/scholarstream/services/searchd/search"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "scholarstream-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("searchd")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func searchTimeout() time.Duration {
	raw := os.Getenv("SEARCH_TIMEOUT")
	if raw == "" {
		return handlers.DefaultSearchTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("SEARCH_TIMEOUT is invalid, using default", "value", raw, "error", err)
		return handlers.DefaultSearchTimeout
	}
	return d
}

func main() {
	port := os.Getenv("SEARCHD_PORT")
	if port == "" {
		port = "12310"
	}

	baseLogger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "searchd",
		JSON:    true,
		LogDir:  os.Getenv("LOG_DIR"),
	})
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer baseLogger.Close()
	logger := baseLogger.Logger
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	dbPath := os.Getenv("QUOTA_DB_PATH")
	if dbPath == "" {
		dbPath = "/data/quota.db"
	}
	store, err := quota.Open(dbPath)
	if err != nil {
		log.Fatalf("FATAL: could not open quota store at %s: %v", dbPath, err)
	}
	defer store.Close()

	// Identity provider. Without one, bearer tokens are rejected and
	// only anonymous subjects can search.
	var verifier middleware.TokenVerifier
	authURL := strings.Trim(os.Getenv("AUTH_SERVICE_URL"), "\"' ")
	if authURL != "" {
		verifier = middleware.NewHTTPVerifier(authURL, os.Getenv("AUTH_API_KEY"))
		slog.Info("Using HTTP identity provider", "url", authURL)
	} else {
		verifier = middleware.NewStaticVerifier(nil)
		slog.Info("AUTH_SERVICE_URL not set. Running in anonymous-only mode.")
	}

	// LLM client powers rewrite and filtering. Without a key both
	// degrade: rewrite passes the query through, filtering keeps any
	// paper with an abstract.
	var chat search.ChatCompleter
	llmKey := os.Getenv("OPENAI_API_KEY")
	llmModel := os.Getenv("LLM_MODEL")
	if llmModel == "" {
		llmModel = "gpt-4o-mini"
	}
	if llmKey != "" {
		chat = search.NewChatClient(llmKey, os.Getenv("LLM_BASE_URL"))
		slog.Info("Using OpenAI-compatible LLM backend", "model", llmModel)
	} else {
		slog.Warn("OPENAI_API_KEY not set. Query rewrite and relevance filtering run degraded.")
	}

	scholar := search.NewSemanticScholarClient(os.Getenv("S2_API_KEY"), logger)
	if !scholar.Enabled() {
		slog.Info("S2_API_KEY not set. Abstract enrichment is disabled.")
	}

	orchestrator := search.NewOrchestrator(
		search.NewCatalog(nil),
		search.NewRewriter(chat, llmModel, logger),
		search.NewCrossRefClient(logger),
		scholar,
		search.NewFilter(chat, llmModel, logger),
		logger,
	)

	router := gin.Default()
	router.Use(otelgin.Middleware("searchd"))

	routes.SetupRoutes(router, routes.Deps{
		Store:    store,
		Verifier: verifier,
		Search:   handlers.NewSearchHandler(quota.NewGuard(store), orchestrator, metrics, logger, searchTimeout()),
		Quota:    handlers.NewQuotaHandler(store, metrics, logger),
		Pipeline: handlers.NewPipelineHandler(search.NewCatalog(nil), search.NewRewriter(chat, llmModel, logger), search.NewCrossRefClient(logger), search.NewFilter(chat, llmModel, logger), metrics, logger),
	})

	log.Println("Starting the searchd server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
