// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/teracyte/liveview/lib/config"
	"github.com/teracyte/liveview/lib/liveui"
)

// logging is the process logger and what it needs torn down.
type logging struct {
	logger *slog.Logger
	// tui is set in interactive mode and must be attached to the
	// program before it runs.
	tui    *liveui.LogHandler
	closer func()
}

// newLogging builds the process logger. Interactive mode routes
// records into the TUI status bar, since writing to stderr would
// corrupt the alternate screen. Headless mode writes to stderr. Either
// way log.file, when set, receives every record as JSON too.
func newLogging(cfg config.LogConfig, stderr io.Writer, headless bool) (*logging, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, usageErrorf("log level: %w", err)
	}

	result := &logging{closer: func() {}}
	var primary slog.Handler
	if headless {
		primary = newStderrHandler(stderr, level)
	} else {
		result.tui = liveui.NewLogHandler(level)
		primary = result.tui
	}

	handler := primary
	if cfg.File != "" {
		fileHandler, closer, err := openFileLogHandler(cfg.File, level)
		if err != nil {
			return nil, usageErrorf("cannot open log file %s: %w", cfg.File, err)
		}
		result.closer = closer
		handler = fanoutHandler{primary, fileHandler}
	}
	result.logger = slog.New(handler)
	return result, nil
}

func (l *logging) close() { l.closer() }

// newStderrHandler writes text for a person at a terminal and JSON
// for anything else.
func newStderrHandler(stderr io.Writer, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if isTerminal(stderr) {
		return slog.NewTextHandler(stderr, options)
	}
	return slog.NewJSONHandler(stderr, options)
}

// openFileLogHandler creates a slog.JSONHandler that appends to path.
// Returns the handler and a cleanup function to close the file.
func openFileLogHandler(path string, level slog.Level) (slog.Handler, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return handler, func() { file.Close() }, nil
}

// fanoutHandler is a slog.Handler that sends each record to multiple
// underlying handlers. A record is enabled if any sub-handler is
// enabled for that level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
