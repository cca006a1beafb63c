// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for both screens.
type KeyMap struct {
	// Live screen.
	Refresh  key.Binding
	Up       key.Binding // Move the history selection.
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Inspect  key.Binding
	Back     key.Binding
	Quit     key.Binding

	// Login screen. Printable keys go to the focused field, so quitting
	// uses Escape instead of q.
	NextField     key.Binding
	PreviousField key.Binding
	Submit        key.Binding
	Cancel        key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r", "f5"),
		key.WithHelp("r", "refresh"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "history up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "history down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	Inspect: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "inspect"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "back"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	NextField: key.NewBinding(
		key.WithKeys("tab", "down"),
		key.WithHelp("Tab", "next field"),
	),
	PreviousField: key.NewBinding(
		key.WithKeys("shift+tab", "up"),
		key.WithHelp("S-Tab", "previous field"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "sign in"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("Esc", "quit"),
	),
}
