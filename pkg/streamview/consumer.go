// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streamview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Conversation state
// =============================================================================

// StageState is the last observed status of one pipeline stage.
type StageState struct {
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Conversation is the stored state of one logical chat/search thread.
// Every stream mutation lands here, keyed by the conversation the
// request was bound to at issue time, never by whatever the user is
// currently looking at.
type Conversation struct {
	ID        string       `json:"id"`
	Query     string       `json:"query"`
	Stages    []StageState `json:"stages"`
	Papers    []Paper      `json:"papers"`
	Keywords  string       `json:"keywords"`
	Messages  []string     `json:"messages"`
	LastError *StreamError `json:"last_error,omitempty"`
	QuotaHint *uint        `json:"quota_hint,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// setStage records a stage transition, replacing the previous status of
// the same stage so the stage list stays one entry per stage.
func (conv *Conversation) setStage(update ProgressUpdate) {
	for i := range conv.Stages {
		if conv.Stages[i].Stage == update.Stage {
			conv.Stages[i].Status = update.Status
			conv.Stages[i].Message = update.Message
			return
		}
	}
	conv.Stages = append(conv.Stages, StageState{
		Stage: update.Stage, Status: update.Status, Message: update.Message,
	})
}

// =============================================================================
// View sink
// =============================================================================

// ViewSink receives UI updates. The consumer calls it only when the
// mutated conversation is also the active one; background
// conversations accumulate state silently.
type ViewSink interface {
	StageChanged(conversationID string, update ProgressUpdate)
	ResultArrived(conversationID string, result SearchResult)
	ErrorArrived(conversationID string, streamErr StreamError)
}

// NopSink discards all view updates.
type NopSink struct{}

func (NopSink) StageChanged(string, ProgressUpdate) {}
func (NopSink) ResultArrived(string, SearchResult)  {}
func (NopSink) ErrorArrived(string, StreamError)    {}

// =============================================================================
// Consumer
// =============================================================================

// Outcome is a request's single settled disposition.
type Outcome int

const (
	// OutcomeResult: a result frame (possibly garbled) terminated the stream.
	OutcomeResult Outcome = iota
	// OutcomeError: an error frame terminated the stream.
	OutcomeError
	// OutcomeCancelled: the request was abandoned before a terminal frame.
	OutcomeCancelled
)

// ErrNoTerminal reports a stream that closed without any terminal
// frame. The bound conversation gets a generic error message.
var ErrNoTerminal = errors.New("stream closed without a terminal frame")

// Consumer is the conversation arena. It owns conversation records and
// applies stream events to the conversation each request was bound to.
//
// # Thread Safety
//
// Safe for concurrent use. Multiple in-flight requests for different
// conversations may stream concurrently; per-conversation there is at
// most one in-flight request (starting a new one cancels the old).
type Consumer struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	active        string
	inflight      map[string]*Request
	sink          ViewSink
	logger        *slog.Logger
}

// NewConsumer creates an empty arena. A nil sink falls back to NopSink.
func NewConsumer(sink ViewSink, logger *slog.Logger) *Consumer {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conversations: make(map[string]*Conversation),
		inflight:      make(map[string]*Request),
		sink:          sink,
		logger:        logger,
	}
}

// SetActive switches the displayed conversation, creating its record
// if it does not exist yet.
func (c *Consumer) SetActive(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLocked(conversationID)
	c.active = conversationID
}

// Active returns the currently displayed conversation id.
func (c *Consumer) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Conversation returns a snapshot of one conversation's state.
func (c *Consumer) Conversation(conversationID string) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// Delete removes a conversation and cancels its in-flight request, if
// any. In-flight results for a deleted conversation are discarded.
func (c *Consumer) Delete(conversationID string) {
	c.mu.Lock()
	req := c.inflight[conversationID]
	delete(c.inflight, conversationID)
	delete(c.conversations, conversationID)
	if c.active == conversationID {
		c.active = ""
	}
	c.mu.Unlock()
	if req != nil {
		req.cancel()
	}
}

func (c *Consumer) ensureLocked(conversationID string) *Conversation {
	conv, ok := c.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID}
		c.conversations[conversationID] = conv
	}
	return conv
}

// =============================================================================
// Requests
// =============================================================================

// Request is one in-flight search bound to the conversation that
// issued it. The binding never changes after creation.
type Request struct {
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc
	seen           map[string]struct{}
}

// Context exposes the request's cancellation context for the HTTP call.
func (r *Request) Context() context.Context { return r.ctx }

// Cancel abandons the request. Cancellation is silent: no synthetic
// error frame reaches the conversation or the view.
func (r *Request) Cancel() { r.cancel() }

// StartSearch binds a new request to conversationID and silently
// cancels any request already in flight for the same conversation.
func (c *Consumer) StartSearch(ctx context.Context, conversationID, query string) *Request {
	reqCtx, cancel := context.WithCancel(ctx)
	req := &Request{
		conversationID: conversationID,
		ctx:            reqCtx,
		cancel:         cancel,
		seen:           make(map[string]struct{}),
	}

	c.mu.Lock()
	prev := c.inflight[conversationID]
	c.inflight[conversationID] = req
	conv := c.ensureLocked(conversationID)
	conv.Query = query
	conv.Stages = nil
	conv.LastError = nil
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return req
}

// Consume reads the SSE body to completion and applies every event to
// the request's bound conversation.
//
// # Description
//
// Exactly one of {OutcomeResult, OutcomeError, OutcomeCancelled} is
// returned per request. A stream that closes with no terminal frame
// returns OutcomeError together with ErrNoTerminal, unless a garbled
// result frame was seen, in which case the terminal did arrive and the
// outcome is OutcomeResult.
//
// # Inputs
//
//   - req: the handle from StartSearch.
//   - body: the response body. Consume does not close it.
func (c *Consumer) Consume(req *Request, body io.Reader) (Outcome, error) {
	defer func() {
		c.mu.Lock()
		if c.inflight[req.conversationID] == req {
			delete(c.inflight, req.conversationID)
		}
		c.mu.Unlock()
		req.cancel()
	}()

	decoder := NewFrameDecoder()
	var resultApplied, errorApplied, garbledResult bool

	apply := func(frames []Frame) {
		for _, f := range frames {
			event, err := ParseEvent(f)
			if errors.Is(err, ErrGarbledResult) {
				garbledResult = true
				c.logger.Warn("result frame garbled, treating as terminal",
					"conversation", req.conversationID)
				continue
			}
			if err != nil {
				c.logger.Warn("skipping malformed frame", "error", err)
				continue
			}
			switch e := event.(type) {
			case ProgressUpdate:
				if req.duplicate(e.ID) {
					continue
				}
				c.applyProgress(req.conversationID, e)
			case SearchResult:
				if req.duplicate(e.ID) {
					continue
				}
				resultApplied = true
				c.applyResult(req.conversationID, e)
			case StreamError:
				if req.duplicate(e.ID) {
					continue
				}
				errorApplied = true
				c.applyError(req.conversationID, e)
			}
		}
	}

	chunk := make([]byte, 4096)
	for {
		if req.ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
		n, err := body.Read(chunk)
		if n > 0 {
			apply(decoder.Feed(chunk[:n]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if req.ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			apply(decoder.Close())
			return c.settle(req, resultApplied, errorApplied, garbledResult, err)
		}
	}
	apply(decoder.Close())
	if req.ctx.Err() != nil {
		return OutcomeCancelled, nil
	}
	return c.settle(req, resultApplied, errorApplied, garbledResult, nil)
}

// settle maps what the stream delivered onto the single outcome.
func (c *Consumer) settle(req *Request, resultApplied, errorApplied, garbledResult bool, readErr error) (Outcome, error) {
	switch {
	case resultApplied:
		return OutcomeResult, nil
	case errorApplied:
		return OutcomeError, nil
	case garbledResult:
		// Terminal arrived but its payload was lost. Do not invent a
		// "no result received" error on top of a real result.
		return OutcomeResult, ErrGarbledResult
	}

	streamErr := StreamError{Code: "NO_RESULT", Message: "no result received"}
	c.applyError(req.conversationID, streamErr)
	if readErr != nil {
		return OutcomeError, readErr
	}
	return OutcomeError, ErrNoTerminal
}

// duplicate records a frame id and reports whether it was seen before.
// Frames without ids are never treated as duplicates.
func (r *Request) duplicate(id string) bool {
	if id == "" {
		return false
	}
	if _, seen := r.seen[id]; seen {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}

// =============================================================================
// Mutations
// =============================================================================

func (c *Consumer) applyProgress(conversationID string, update ProgressUpdate) {
	c.mu.Lock()
	conv, ok := c.conversations[conversationID]
	if !ok {
		// Conversation deleted mid-flight; drop the mutation.
		c.mu.Unlock()
		return
	}
	conv.setStage(update)
	if update.QuotaRemaining != nil {
		conv.QuotaHint = update.QuotaRemaining
	}
	conv.UpdatedAt = time.Now()
	visible := c.active == conversationID
	c.mu.Unlock()

	if visible {
		c.sink.StageChanged(conversationID, update)
	}
}

func (c *Consumer) applyResult(conversationID string, result SearchResult) {
	c.mu.Lock()
	conv, ok := c.conversations[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	conv.Papers = result.Papers
	conv.Keywords = result.Keywords
	if result.Message != "" {
		conv.Messages = append(conv.Messages, result.Message)
	}
	if result.QuotaRemaining != nil {
		conv.QuotaHint = result.QuotaRemaining
	}
	conv.UpdatedAt = time.Now()
	visible := c.active == conversationID
	c.mu.Unlock()

	if visible {
		c.sink.ResultArrived(conversationID, result)
	}
}

func (c *Consumer) applyError(conversationID string, streamErr StreamError) {
	c.mu.Lock()
	conv, ok := c.conversations[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	errCopy := streamErr
	conv.LastError = &errCopy
	conv.UpdatedAt = time.Now()
	visible := c.active == conversationID
	c.mu.Unlock()

	if visible {
		c.sink.ErrorArrived(conversationID, streamErr)
	}
}
