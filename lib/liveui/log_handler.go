// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg delivers a slog record to the bubbletea model for
// display in the status bar.
type logRecordMsg struct {
	// Summary is the one-line "message (key=value, ...)" form.
	Summary string
	Level   slog.Level
}

// logRecordFadeMsg clears the log notice if no newer record has
// replaced it since the fade was scheduled.
type logRecordFadeMsg struct {
	generation int
}

// logRecordFadeDelay is how long log messages stay visible in the
// status bar before fading back to the keyboard help line.
const logRecordFadeDelay = 5 * time.Second

// LogHandler is a slog.Handler that routes log records into a
// bubbletea program as messages. Writing to stderr while the TUI owns
// the terminal would corrupt the display.
//
// Create the handler before the program, then call SetProgram. Records
// arriving before SetProgram are dropped. Handlers derived via
// WithAttrs/WithGroup share the program pointer with their root.
//
// Nothing inside the model's Update may log through this handler:
// Program.Send from the event loop goroutine would block forever.
type LogHandler struct {
	level  slog.Leveler
	send   *atomic.Pointer[func(tea.Msg)]
	attrs  []string
	prefix string
}

// NewLogHandler creates a handler that delivers records at or above
// level.
func NewLogHandler(level slog.Leveler) *LogHandler {
	return &LogHandler{
		level: level,
		send:  &atomic.Pointer[func(tea.Msg)]{},
	}
}

// SetProgram sets the program that receives log messages. Safe to call
// from any goroutine.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.setSender(program.Send)
}

func (handler *LogHandler) setSender(send func(tea.Msg)) {
	handler.send.Store(&send)
}

// Enabled reports whether the handler is interested in records at the
// given level.
func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

// Handle formats the record and sends it to the program.
func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	send := handler.send.Load()
	if send == nil {
		return nil
	}

	parts := append([]string(nil), handler.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		parts = appendAttr(parts, handler.prefix, attr)
		return true
	})

	summary := record.Message
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}

	(*send)(logRecordMsg{Summary: summary, Level: record.Level})
	return nil
}

// WithAttrs returns a handler that includes attrs in every summary.
func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := handler.clone()
	for _, attr := range attrs {
		derived.attrs = appendAttr(derived.attrs, handler.prefix, attr)
	}
	return derived
}

// WithGroup returns a handler that qualifies later keys with name.
func (handler *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := handler.clone()
	derived.prefix = handler.prefix + name + "."
	return derived
}

func (handler *LogHandler) clone() *LogHandler {
	return &LogHandler{
		level:  handler.level,
		send:   handler.send,
		attrs:  append([]string(nil), handler.attrs...),
		prefix: handler.prefix,
	}
}

func appendAttr(parts []string, prefix string, attr slog.Attr) []string {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return parts
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix += attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			parts = appendAttr(parts, groupPrefix, member)
		}
		return parts
	}
	return append(parts, fmt.Sprintf("%s%s=%s", prefix, attr.Key, attr.Value))
}
