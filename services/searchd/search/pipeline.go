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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/scholarstream/services/searchd/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

// StageError carries the stage a pipeline failure happened in plus the
// wire error code the caller should emit.
type StageError struct {
	Stage datatypes.SearchStage
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Orchestrator
// =============================================================================

// Progress receives stage transitions as the pipeline runs. Callbacks
// happen on the pipeline goroutine; implementations must not block for
// long.
type Progress func(event datatypes.StageEvent)

// Result is the terminal output of a completed pipeline run.
type Result struct {
	OriginalQuery      string
	Keywords           string
	PapersBeforeFilter uint
	Papers             []datatypes.Paper
}

// Orchestrator runs the four-stage paper search pipeline.
//
// # Description
//
// Stages run strictly in order: rewrite, retrieve, enrich, filter. Each
// stage reports running then completed (or error) through the Progress
// callback before the next stage reports anything. An error in any
// stage aborts the run; partial results are never returned.
//
// # Thread Safety
//
// Safe for concurrent Run calls; the orchestrator holds no per-run
// state.
type Orchestrator struct {
	catalog  *Catalog
	rewriter *Rewriter
	crossref *CrossRefClient
	scholar  *SemanticScholarClient
	filter   *Filter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewOrchestrator wires the pipeline from its stage implementations.
func NewOrchestrator(catalog *Catalog, rewriter *Rewriter, crossref *CrossRefClient, scholar *SemanticScholarClient, filter *Filter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:  catalog,
		rewriter: rewriter,
		crossref: crossref,
		scholar:  scholar,
		filter:   filter,
		logger:   logger,
		tracer:   otel.Tracer("scholarstream/search"),
	}
}

// Run executes the pipeline for one admitted request.
//
// # Inputs
//
//   - ctx: Cancels the run; cancellation surfaces as a TIMEOUT-coded
//     StageError when the deadline expired and a plain context error
//     otherwise.
//   - req: Validated request with defaults applied.
//   - progress: Stage transition sink. May be nil.
//
// # Outputs
//
//   - Result: Terminal result; zero value when err is non-nil.
//   - error: *StageError on stage failure, context error on client
//     disconnect.
func (o *Orchestrator) Run(ctx context.Context, req datatypes.PaperSearchRequest, progress Progress) (Result, error) {
	emit := func(event datatypes.StageEvent) {
		if progress != nil {
			progress(event)
		}
	}

	// Stage 1: rewrite. Never fails; the rewriter falls back internally.
	emit(datatypes.StageEvent{Stage: datatypes.StageRewrite, Status: datatypes.StageRunning, Message: "Extracting search keywords"})
	keywords := o.runRewrite(ctx, req.Query)
	if err := o.checkCancelled(ctx, datatypes.StageRewrite); err != nil {
		return Result{}, err
	}
	emit(datatypes.StageEvent{Stage: datatypes.StageRewrite, Status: datatypes.StageCompleted,
		Message: fmt.Sprintf("Keywords: %s", keywords)})

	// Stage 2: retrieve.
	venues := o.catalog.Select(req.Venues)
	emit(datatypes.StageEvent{Stage: datatypes.StageRetrieve, Status: datatypes.StageRunning,
		Message: fmt.Sprintf("Searching %d venues", len(venues))})
	papers, err := o.runRetrieve(ctx, keywords, venues, req)
	if err != nil {
		emit(datatypes.StageEvent{Stage: datatypes.StageRetrieve, Status: datatypes.StageErrored, Message: "Paper retrieval failed"})
		return Result{}, err
	}
	emit(datatypes.StageEvent{Stage: datatypes.StageRetrieve, Status: datatypes.StageCompleted,
		Message: fmt.Sprintf("Found %d papers", len(papers))})

	// Stage 3: enrich.
	emit(datatypes.StageEvent{Stage: datatypes.StageEnrich, Status: datatypes.StageRunning, Message: "Fetching missing abstracts"})
	withAbstract, err := o.runEnrich(ctx, papers, func(done, total int, title string) {
		emit(datatypes.StageEvent{Stage: datatypes.StageEnrich, Status: datatypes.StageRunning,
			Message: fmt.Sprintf("Fetching abstracts (%d/%d)", done, total)})
	})
	if err != nil {
		emit(datatypes.StageEvent{Stage: datatypes.StageEnrich, Status: datatypes.StageErrored, Message: "Abstract enrichment failed"})
		return Result{}, err
	}
	emit(datatypes.StageEvent{Stage: datatypes.StageEnrich, Status: datatypes.StageCompleted,
		Message: fmt.Sprintf("%d/%d papers have abstracts", withAbstract, len(papers))})

	// Stage 4: filter.
	emit(datatypes.StageEvent{Stage: datatypes.StageFilter, Status: datatypes.StageRunning,
		Message: fmt.Sprintf("Screening %d papers for relevance", len(papers))})
	relevant, err := o.runFilter(ctx, req.Query, papers)
	if err != nil {
		emit(datatypes.StageEvent{Stage: datatypes.StageFilter, Status: datatypes.StageErrored, Message: "Relevance filtering failed"})
		return Result{}, err
	}
	emit(datatypes.StageEvent{Stage: datatypes.StageFilter, Status: datatypes.StageCompleted,
		Message: fmt.Sprintf("%d papers relevant", len(relevant))})

	return Result{
		OriginalQuery:      req.Query,
		Keywords:           keywords,
		PapersBeforeFilter: uint(len(papers)),
		Papers:             relevant,
	}, nil
}

func (o *Orchestrator) runRewrite(ctx context.Context, query string) string {
	ctx, span := o.tracer.Start(ctx, "search.rewrite")
	defer span.End()
	keywords := o.rewriter.Rewrite(ctx, query)
	span.SetAttributes(attribute.String("search.keywords", keywords))
	return keywords
}

func (o *Orchestrator) runRetrieve(ctx context.Context, keywords string, venues []Venue, req datatypes.PaperSearchRequest) ([]datatypes.Paper, error) {
	ctx, span := o.tracer.Start(ctx, "search.retrieve",
		trace.WithAttributes(attribute.Int("search.venues", len(venues))))
	defer span.End()

	papers, err := o.crossref.SearchVenues(ctx, keywords, venues, req.StartYear, req.EndYear, req.RowsEach)
	if err != nil {
		return nil, o.stageError(ctx, datatypes.StageRetrieve, err)
	}
	span.SetAttributes(attribute.Int("search.papers", len(papers)))
	return papers, nil
}

func (o *Orchestrator) runEnrich(ctx context.Context, papers []datatypes.Paper, progress EnrichProgress) (int, error) {
	ctx, span := o.tracer.Start(ctx, "search.enrich")
	defer span.End()

	withAbstract, err := o.scholar.Enrich(ctx, papers, progress)
	if err != nil {
		return 0, o.stageError(ctx, datatypes.StageEnrich, err)
	}
	span.SetAttributes(attribute.Int("search.with_abstract", withAbstract))
	return withAbstract, nil
}

func (o *Orchestrator) runFilter(ctx context.Context, query string, papers []datatypes.Paper) ([]datatypes.Paper, error) {
	ctx, span := o.tracer.Start(ctx, "search.filter",
		trace.WithAttributes(attribute.Int("search.candidates", len(papers))))
	defer span.End()

	relevant, err := o.filter.Apply(ctx, query, papers)
	if err != nil {
		return nil, o.stageError(ctx, datatypes.StageFilter, err)
	}
	span.SetAttributes(attribute.Int("search.relevant", len(relevant)))
	return relevant, nil
}

// checkCancelled converts a cancelled context into a stage error so the
// caller can map it to a wire frame.
func (o *Orchestrator) checkCancelled(ctx context.Context, stage datatypes.SearchStage) error {
	if ctx.Err() != nil {
		return o.stageError(ctx, stage, ctx.Err())
	}
	return nil
}

// stageError wraps err with the stage and the wire code. Deadline expiry
// is a TIMEOUT; a plain cancellation (client disconnect) propagates as
// the bare context error so callers stay silent; everything else is an
// upstream failure.
func (o *Orchestrator) stageError(ctx context.Context, stage datatypes.SearchStage, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return &StageError{Stage: stage, Code: datatypes.ErrCodeTimeout, Err: err}
	case context.Canceled:
		return ctx.Err()
	}
	return &StageError{Stage: stage, Code: datatypes.ErrCodeUpstreamFailure, Err: err}
}
