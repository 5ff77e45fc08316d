package main

import (
	"fmt"
	"strings"

	"webterm/internal/session"

	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tabStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	stateStyles = map[session.State]lipgloss.Style{
		session.StateUnavailable: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		session.StateStarted:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.StateLoaded:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		session.StateError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

func renderState(s session.State) string {
	style, ok := stateStyles[s]
	if !ok {
		return s.String()
	}
	return style.Render(s.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// renderSnapshot formats one tab as a single status line.
func renderSnapshot(s session.Snapshot) string {
	var b strings.Builder
	b.WriteString(tabStyle.Render(shortID(s.TabID)))
	b.WriteString(" ")
	b.WriteString(renderState(s.State))
	if s.Title != "" {
		fmt.Fprintf(&b, " %q", s.Title)
	}
	b.WriteString(labelStyle.Render(fmt.Sprintf(" %s attempt=%d retries=%d", s.URL, s.Attempt, s.Retries)))
	if s.LastError != "" {
		b.WriteString(" ")
		b.WriteString(errorStyle.Render(s.LastError))
	}
	return b.String()
}

// renderFields formats label/value pairs as an aligned block.
func renderFields(pairs ...string) string {
	width := 0
	for i := 0; i < len(pairs); i += 2 {
		if len(pairs[i]) > width {
			width = len(pairs[i])
		}
	}
	var lines []string
	for i := 0; i+1 < len(pairs); i += 2 {
		label := labelStyle.Render(fmt.Sprintf("%-*s", width, pairs[i]))
		lines = append(lines, label+"  "+pairs[i+1])
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
