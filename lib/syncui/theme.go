// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// Theme is the session view's palette, in lipgloss ANSI 256-color
// codes.
type Theme struct {
	NormalText       lipgloss.Color
	FaintText        lipgloss.Color
	HeaderForeground lipgloss.Color

	BarFilled lipgloss.Color
	BarEmpty  lipgloss.Color

	LevelWarn  lipgloss.Color
	LevelError lipgloss.Color

	OutcomeSuccess lipgloss.Color
	OutcomePartial lipgloss.Color
	OutcomeFailure lipgloss.Color
}

// DefaultTheme targets dark 256-color terminals.
var DefaultTheme = Theme{
	NormalText:       lipgloss.Color("252"),
	FaintText:        lipgloss.Color("245"),
	HeaderForeground: lipgloss.Color("255"),

	BarFilled: lipgloss.Color("75"),  // blue
	BarEmpty:  lipgloss.Color("238"), // dark gray

	LevelWarn:  lipgloss.Color("220"), // amber
	LevelError: lipgloss.Color("196"), // red

	OutcomeSuccess: lipgloss.Color("114"), // green
	OutcomePartial: lipgloss.Color("220"),
	OutcomeFailure: lipgloss.Color("196"),
}

// KeyMap holds the view's bindings.
type KeyMap struct {
	// Quit cancels the session; pressed again it exits without
	// waiting for the engine.
	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}
