// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Theme is the color palette for kvrtc's terminal views. All colors
// are ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// State colors, keyed by the lowercase state names the negotiation
	// and gathering packages print.
	StateIdle        lipgloss.Color
	StateNegotiating lipgloss.Color
	StateConnected   lipgloss.Color
	StateFailed      lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Accent marks the spinner and the bitrate figure.
	Accent lipgloss.Color
}

// StateColor returns the color for a state name. Unknown names return
// FaintText.
func (theme Theme) StateColor(state string) lipgloss.Color {
	switch state {
	case "idle", "new", "closed":
		return theme.StateIdle
	case "negotiating", "in-progress", "timed-out", "connecting":
		return theme.StateNegotiating
	case "connected", "complete":
		return theme.StateConnected
	case "failed", "disconnected":
		return theme.StateFailed
	default:
		return theme.FaintText
	}
}

// RenderState renders state in its color.
func (theme Theme) RenderState(state string) string {
	return lipgloss.NewStyle().Foreground(theme.StateColor(state)).Bold(true).Render(state)
}

// Excerpt returns at most maxLines lines of text, each cut to width
// display cells. A final line reports how many lines were left out.
func Excerpt(text string, width, maxLines int) []string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	var out []string
	for i, line := range lines {
		if maxLines > 0 && i == maxLines {
			line = "… " + strconv.Itoa(len(lines)-maxLines) + " more lines"
			if width > 0 {
				line = ansi.Truncate(line, width, "…")
			}
			out = append(out, line)
			break
		}
		if width > 0 {
			line = ansi.Truncate(line, width, "…")
		}
		out = append(out, line)
	}
	return out
}

// DefaultTheme is the built-in dark-terminal scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	StateIdle:        lipgloss.Color("245"), // gray
	StateNegotiating: lipgloss.Color("220"), // amber
	StateConnected:   lipgloss.Color("114"), // green
	StateFailed:      lipgloss.Color("196"), // red

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	Accent: lipgloss.Color("75"), // blue
}
