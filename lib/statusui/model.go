// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statusui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/kvrtc/lib/tui"
	"github.com/bureau-foundation/kvrtc/negotiation"
)

// descriptionLines bounds each description excerpt.
const descriptionLines = 12

// sessionMsg carries a snapshot from the source channel.
type sessionMsg struct {
	session negotiation.Session
}

// sourceClosedMsg reports that the source channel was closed.
type sourceClosedMsg struct{}

// Model is the bubbletea model of the status view.
type Model struct {
	source  <-chan negotiation.Session
	session negotiation.Session
	open    bool

	keys    KeyMap
	theme   tui.Theme
	spinner spinner.Model
	now     func() time.Time

	width            int
	showDescriptions bool
}

// NewModel returns a model reading snapshots from source.
func NewModel(source <-chan negotiation.Session) Model {
	theme := tui.DefaultTheme
	return Model{
		source: source,
		open:   true,
		keys:   DefaultKeyMap,
		theme:  theme,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.Accent)),
		),
		now:   time.Now,
		width: 80,
	}
}

// Session returns the last snapshot the model received.
func (model Model) Session() negotiation.Session { return model.session }

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return tea.Batch(listenForSession(model.source), model.spinner.Tick)
}

// listenForSession returns a tea.Cmd that blocks until a snapshot
// arrives on the channel.
func listenForSession(channel <-chan negotiation.Session) tea.Cmd {
	return func() tea.Msg {
		session, ok := <-channel
		if !ok {
			return sourceClosedMsg{}
		}
		return sessionMsg{session: session}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit
		case key.Matches(message, model.keys.Descriptions):
			model.showDescriptions = !model.showDescriptions
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = message.Width
		return model, nil

	case sessionMsg:
		model.session = message.session
		return model, listenForSession(model.source)

	case sourceClosedMsg:
		model.open = false
		return model, nil

	case spinner.TickMsg:
		if model.session.ConnectionState.Settled() || !model.open {
			return model, nil
		}
		var command tea.Cmd
		model.spinner, command = model.spinner.Update(message)
		return model, command
	}
	return model, nil
}

// View implements tea.Model.
func (model Model) View() string {
	session := model.session
	theme := model.theme

	header := lipgloss.NewStyle().Bold(true).Foreground(theme.HeaderForeground)
	label := lipgloss.NewStyle().Foreground(theme.FaintText).Width(12)
	accent := lipgloss.NewStyle().Foreground(theme.Accent)

	var b strings.Builder
	title := "kvrtc " + session.Role.String()
	if session.ID != "" {
		title += "  " + lipgloss.NewStyle().Foreground(theme.FaintText).Render(session.ID)
	}
	b.WriteString(header.Render(title))
	b.WriteString("\n\n")

	state := theme.RenderState(session.ConnectionState.String())
	if session.ConnectionState == negotiation.Negotiating && model.open {
		state = model.spinner.View() + " " + state
	}
	row := func(name, value string) {
		b.WriteString(label.Render(name))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("state", state)
	if session.ConnectionState != negotiation.Idle {
		row("gathering", fmt.Sprintf("%s (%d candidates)",
			theme.RenderState(session.GatheringState.String()), session.Candidates))
		row("peer", theme.RenderState(session.PeerState.String()))
		row("bitrate", accent.Render(fmt.Sprintf("%.0f kbps", session.BitrateKbps)))
		if !session.StartedAt.IsZero() {
			row("elapsed", model.now().Sub(session.StartedAt).Truncate(time.Second).String())
		}
	}
	if session.LastError != nil {
		row("error", lipgloss.NewStyle().Foreground(theme.StateFailed).Render(session.LastError.Error()))
	}
	if !model.open {
		row("", lipgloss.NewStyle().Foreground(theme.FaintText).Render("session closed"))
	}

	if model.showDescriptions {
		model.writeDescription(&b, "local description", session.LocalDescription != nil, func() string {
			return session.LocalDescription.SDP
		})
		model.writeDescription(&b, "remote description", session.RemoteDescription != nil, func() string {
			return session.RemoteDescription.SDP
		})
	}

	help := lipgloss.NewStyle().Foreground(theme.HelpText)
	b.WriteString("\n")
	b.WriteString(help.Render(fmt.Sprintf("%s %s • %s %s",
		model.keys.Descriptions.Help().Key, model.keys.Descriptions.Help().Desc,
		model.keys.Quit.Help().Key, model.keys.Quit.Help().Desc)))
	b.WriteString("\n")
	return b.String()
}

func (model Model) writeDescription(b *strings.Builder, title string, present bool, text func() string) {
	border := lipgloss.NewStyle().Foreground(model.theme.BorderColor)
	b.WriteString("\n")
	b.WriteString(border.Render("── " + title))
	b.WriteString("\n")
	if !present {
		b.WriteString(lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("(none yet)"))
		b.WriteString("\n")
		return
	}
	for _, line := range tui.Excerpt(text(), model.width, descriptionLines) {
		b.WriteString(line)
		b.WriteString("\n")
	}
}
