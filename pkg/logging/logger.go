// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for scholarstream
// components.
//
// The service logs JSON to stdout (container convention); the CLI logs
// text to stderr so paper output on stdout stays clean. Either can
// additionally log to a dated file per service.
//
// # Basic Usage
//
//	logger := logging.Default("searchd")
//	logger.Info("search admitted", "subject", subject)
//
// # File Logging
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "searchd",
//	    LogDir:  "~/.scholarstream/logs",
//	    JSON:    true,
//	})
//	defer logger.Close()
//
// # Security Considerations
//
// Nothing here redacts sensitive data. Bearer tokens and API keys must
// never reach a log call; log their presence, not their value.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level selects the minimum severity that gets logged.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel reads a level name, defaulting to info for anything
// unrecognized.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity logged.
	Level Level

	// Service names the component; it appears on every record and in
	// the log file name.
	Service string

	// Output receives log records. Defaults to os.Stdout when JSON is
	// set, os.Stderr otherwise.
	Output io.Writer

	// JSON selects JSON records over text.
	JSON bool

	// LogDir, when set, additionally writes records to
	// {LogDir}/{service}_{date}.log. Supports ~ expansion. The
	// directory is created if missing.
	LogDir string
}

// Logger wraps slog with an optional log file that Close releases.
//
// # Thread Safety
//
// Safe for concurrent use; slog handlers serialize writes.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds a logger from config.
func New(config Config) (*Logger, error) {
	if config.Service == "" {
		config.Service = "scholarstream"
	}
	out := config.Output
	if out == nil {
		if config.JSON {
			out = os.Stdout
		} else {
			out = os.Stderr
		}
	}

	logger := &Logger{}
	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log dir %s: %w", dir, err)
		}
		name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().Format("2006-01-02"))
		file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, file)
		logger.file = file
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	var handler slog.Handler
	if config.JSON || config.LogDir != "" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger.Logger = slog.New(handler).With("service", config.Service)
	return logger, nil
}

// Default returns an info-level stderr text logger for the named
// component. It never fails.
func Default(service string) *Logger {
	logger, _ := New(Config{Level: LevelInfo, Service: service})
	return logger
}

// Close flushes and releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// expandPath resolves a leading ~ against the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
