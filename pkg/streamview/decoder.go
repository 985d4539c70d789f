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
	"bytes"
	"strings"
)

// frameSeparator ends one SSE frame on the wire.
var frameSeparator = []byte("\n\n")

// FrameDecoder incrementally decodes SSE bytes into frames.
//
// # Description
//
// Feed accepts arbitrary chunks: a frame split across any number of
// reads, or many frames in one read, decodes identically. Close
// flushes a trailing frame that arrived without its final blank line
// (servers that close the connection right after the last `data:`
// line produce these).
//
// # Thread Safety
//
// Not safe for concurrent use. One decoder serves one stream.
type FrameDecoder struct {
	buf bytes.Buffer
}

// NewFrameDecoder creates an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed appends a chunk and returns every frame completed by it, in
// wire order. Comment-only blocks (keepalive pings) are dropped.
func (d *FrameDecoder) Feed(chunk []byte) []Frame {
	d.buf.Write(chunk)

	var frames []Frame
	for {
		raw := d.buf.Bytes()
		idx := bytes.Index(raw, frameSeparator)
		if idx < 0 {
			return frames
		}
		block := string(raw[:idx])
		d.buf.Next(idx + len(frameSeparator))
		if f, ok := parseBlock(block); ok {
			frames = append(frames, f)
		}
	}
}

// Close flushes the final partial frame, if the stream ended without a
// trailing blank line. The decoder must not be fed afterwards.
func (d *FrameDecoder) Close() []Frame {
	block := strings.TrimRight(d.buf.String(), "\n")
	d.buf.Reset()
	if block == "" {
		return nil
	}
	if f, ok := parseBlock(block); ok {
		return []Frame{f}
	}
	return nil
}

// parseBlock decodes one frame block. Data lines are joined with
// newlines per the SSE spec; a block with no event name (comments,
// stray whitespace) is dropped.
func parseBlock(block string) (Frame, bool) {
	var f Frame
	var data []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			f.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if f.Event == "" {
		return Frame{}, false
	}
	f.Data = []byte(strings.Join(data, "\n"))
	return f, true
}
