// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/teracyte/liveview/lib/poll"
)

// Theme defines the color palette for the viewer. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Connection status: live data, data shown while stale, and an
	// error or invalid result.
	StatusLive  lipgloss.Color
	StatusStale lipgloss.Color
	StatusError lipgloss.Color

	// Overlay banner drawn over the frame panel.
	OverlayForeground lipgloss.Color
	OverlayBackground lipgloss.Color

	HistogramBar lipgloss.Color
	FocusedInput lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
}

// StatusColor returns the color for a state: error takes precedence
// over stale, and anything else is live.
func (theme Theme) StatusColor(state poll.State) lipgloss.Color {
	switch {
	case state.Error:
		return theme.StatusError
	case state.Stale:
		return theme.StatusStale
	default:
		return theme.StatusLive
	}
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	StatusLive:  lipgloss.Color("114"), // green
	StatusStale: lipgloss.Color("220"), // yellow/amber
	StatusError: lipgloss.Color("196"), // red

	OverlayForeground: lipgloss.Color("255"),
	OverlayBackground: lipgloss.Color("52"), // dark red

	HistogramBar: lipgloss.Color("75"), // blue
	FocusedInput: lipgloss.Color("141"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),
}
