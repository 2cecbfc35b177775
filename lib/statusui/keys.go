// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statusui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the status view's key bindings.
type KeyMap struct {
	Descriptions key.Binding // Show or hide the description excerpts.
	Quit         key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Descriptions: key.NewBinding(
		key.WithKeys("d", "tab"),
		key.WithHelp("d", "descriptions"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}
